package mongo

import (
	"regexp"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	driver "go.mongodb.org/mongo-driver/mongo"
)

// Relation collection names of the fixed topology.
const (
	assayCollection   = "assay"
	sampleCollection  = "sample"
	patientCollection = "patient"
)

func lookup(from, localField, as string) bson.D {
	return bson.D{{Key: "$lookup", Value: bson.D{
		{Key: "from", Value: from},
		{Key: "localField", Value: localField},
		{Key: "foreignField", Value: "_id"},
		{Key: "as", Value: as},
	}}}
}

func unwind(path string) bson.D {
	return bson.D{{Key: "$unwind", Value: "$" + path}}
}

// distinctPipeline groups a chain collection by the full clonotype key.
func distinctPipeline() driver.Pipeline {
	return driver.Pipeline{
		{{Key: "$group", Value: bson.D{{Key: "_id", Value: bson.D{
			{Key: "VGene", Value: "$VGene"},
			{Key: "aaSeqCDR3", Value: "$aaSeqCDR3"},
			{Key: "nSeqCDR3", Value: "$nSeqCDR3"},
		}}}}},
	}
}

// resolvePipeline matches chains on VGene and aaSeqCDR3, joins through assay,
// sample and patient, and groups by sample id. $unwind drops documents whose
// lookup found nothing, which gives inner-join semantics.
func resolvePipeline(vgene, aaSeqCDR3, cancerTypeID string) driver.Pipeline {
	p := driver.Pipeline{
		{{Key: "$match", Value: bson.D{
			{Key: "VGene", Value: vgene},
			{Key: "aaSeqCDR3", Value: aaSeqCDR3},
		}}},
		lookup(assayCollection, "assay_id", "assay"),
		unwind("assay"),
		lookup(sampleCollection, "assay.sample_id", "sample"),
		unwind("sample"),
	}
	if cancerTypeID != "" {
		p = append(p, bson.D{{Key: "$match", Value: bson.D{{Key: "sample.cancer_type_id", Value: cancerTypeID}}}})
	}
	p = append(p,
		lookup(patientCollection, "sample.patient_id", "patient"),
		unwind("patient"),
		bson.D{{Key: "$group", Value: bson.D{{Key: "_id", Value: "$sample._id"}}}},
	)
	return p
}

// cohortPipeline counts samples of the sample collection whose patient is in studyID.
func cohortPipeline(studyID, cancerTypeID string) driver.Pipeline {
	var p driver.Pipeline
	if cancerTypeID != "" {
		p = append(p, bson.D{{Key: "$match", Value: bson.D{{Key: "cancer_type_id", Value: cancerTypeID}}}})
	}
	return append(p,
		lookup(patientCollection, "patient_id", "patient"),
		unwind("patient"),
		bson.D{{Key: "$match", Value: bson.D{{Key: "patient.study_id", Value: studyID}}}},
		bson.D{{Key: "$count", Value: "n"}},
	)
}

// frequencyFilter builds the find filter for a case-insensitive VGene prefix
// and an optional minimum count. Legacy documents store count as a string, so
// the count bound also converts those before comparing.
func frequencyFilter(prefix string, minCount int) bson.D {
	f := bson.D{{Key: "VGene", Value: primitive.Regex{Pattern: "^" + regexp.QuoteMeta(prefix), Options: "i"}}}
	if minCount > 0 {
		f = append(f, bson.E{Key: "$or", Value: bson.A{
			bson.D{{Key: "count", Value: bson.D{{Key: "$gte", Value: minCount}}}},
			bson.D{{Key: "$expr", Value: legacyCountAtLeast(minCount)}},
		}})
	}
	return f
}

// legacyCountAtLeast matches string counts whose integer value is >= n.
// Unparseable strings convert to -1 and never match.
func legacyCountAtLeast(n int) bson.D {
	return bson.D{{Key: "$and", Value: bson.A{
		bson.D{{Key: "$eq", Value: bson.A{bson.D{{Key: "$type", Value: "$count"}}, "string"}}},
		bson.D{{Key: "$gte", Value: bson.A{
			bson.D{{Key: "$convert", Value: bson.D{
				{Key: "input", Value: bson.D{{Key: "$trim", Value: bson.D{{Key: "input", Value: "$count"}}}}},
				{Key: "to", Value: "int"},
				{Key: "onError", Value: -1},
				{Key: "onNull", Value: -1},
			}}},
			n,
		}}},
	}}}
}
