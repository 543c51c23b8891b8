package llm

import (
	"fmt"
	"regexp"
	"strings"
)

// Precedent is a past batch shown to the analyst for comparison.
type Precedent struct {
	BatchID    string
	Capacity   float64
	Quality    string
	Similarity float64
}

// AnalystBrief is the data the analyst prompt is built from.
type AnalystBrief struct {
	BatchID           string
	DurationMin       int
	Outcome           string
	StopReason        string
	PHStart           float64
	PHEnd             float64
	TempMean          float64
	TempMax           float64
	PredictedCapacity float64
	GroundTruth       float64
	Precedents        []Precedent
}

// AnalystPrompt asks the model for a diagnosis of the batch and concrete
// parameter changes for the next one.
func AnalystPrompt(b AnalystBrief) string {
	var cases strings.Builder
	if len(b.Precedents) == 0 {
		cases.WriteString("- none on record\n")
	}
	for _, p := range b.Precedents {
		fmt.Fprintf(&cases, "- %s: capacity %.2f mmol/g (%s), similarity %.2f\n",
			p.BatchID, p.Capacity, p.Quality, p.Similarity)
	}

	return fmt.Sprintf(`Role: Expert Chemical Engineer supervising a carbon activation process.

## Batch %s
- Duration: %d min (outcome: %s; %s)
- pH: %.2f -> %.2f
- Temperature: mean %.1f C, max %.1f C
- Capacity: predicted %.2f mmol/g, measured %.2f mmol/g

## Similar past batches
%s
## Task
Write a short Markdown assessment with exactly two sections:
1. **Diagnosis**: what drove the measured capacity, citing the telemetry above.
2. **Optimization**: concrete setpoint changes for the next batch.

Do not wrap the answer in a code block.`,
		b.BatchID, b.DurationMin, b.Outcome, stopReasonOrNone(b.StopReason),
		b.PHStart, b.PHEnd, b.TempMean, b.TempMax,
		b.PredictedCapacity, b.GroundTruth, cases.String())
}

func stopReasonOrNone(s string) string {
	if s == "" {
		return "ran to completion"
	}
	return s
}

var fencedBlockRe = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*\\n(.*?)\\s*```$")

// CleanResponse trims a model reply and unwraps it if the whole reply is a
// single fenced code block.
func CleanResponse(s string) string {
	s = strings.TrimSpace(s)
	if m := fencedBlockRe.FindStringSubmatch(s); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return s
}
