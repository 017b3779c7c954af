package analytics

// Result is everything one run produces.
type Result struct {
	Cohort   CohortReport    `json:"cohort"`
	Students []StudentReport `json:"students"`
}

// Analyze runs the full pipeline over a run's batches.
func Analyze(batches []Batch, opts Options) Result {
	idx := IndexBatches(batches)
	return Result{
		Cohort:   idx.Cohort(opts),
		Students: idx.StudentReports(),
	}
}

// Band groups a percentage the way exit ticket sheets colour score cells.
type Band string

const (
	BandAdvanced   Band = "advanced"
	BandProficient Band = "proficient"
	BandDeveloping Band = "developing"
	BandBeginning  Band = "beginning"
)

// ScoreBand classifies a raw score. No possible points is BandBeginning.
func ScoreBand(score, possible float64) Band {
	if possible == 0 {
		return BandBeginning
	}
	return PercentBand(score / possible * 100)
}

func PercentBand(pct float64) Band {
	switch {
	case pct > 90:
		return BandAdvanced
	case pct > 75:
		return BandProficient
	case pct > 40:
		return BandDeveloping
	default:
		return BandBeginning
	}
}

// Color is the sheet background for a band.
func (b Band) Color() string {
	switch b {
	case BandAdvanced:
		return "#C9DAF8"
	case BandProficient:
		return "#D9EAD3"
	case BandDeveloping:
		return "#FFF2CC"
	default:
		return "#F4CCCC"
	}
}
