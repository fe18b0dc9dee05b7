package trainer

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"emotiond/internal/dataset"
	"emotiond/internal/nn"
)

// ConfusionMatrix counts predictions; Counts[actual][predicted].
type ConfusionMatrix struct {
	Counts [][]int
}

func NewConfusionMatrix(numClasses int) *ConfusionMatrix {
	c := make([][]int, numClasses)
	for i := range c {
		c[i] = make([]int, numClasses)
	}
	return &ConfusionMatrix{Counts: c}
}

// Add records one prediction. Out of range labels are ignored.
func (cm *ConfusionMatrix) Add(actual, predicted int) {
	n := len(cm.Counts)
	if actual < 0 || actual >= n || predicted < 0 || predicted >= n {
		return
	}
	cm.Counts[actual][predicted]++
}

// ClassMetrics is one row of a classification report.
type ClassMetrics struct {
	Class     string  `json:"class"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// Report is a per-class precision/recall/F1 summary of a labelled set.
type Report struct {
	Classes     []ClassMetrics `json:"classes"`
	Accuracy    float64        `json:"accuracy"`
	MacroAvg    ClassMetrics   `json:"macro_avg"`
	WeightedAvg ClassMetrics   `json:"weighted_avg"`
	Total       int            `json:"total"`
	Matrix      [][]int        `json:"confusion_matrix"`
}

// Report derives per-class metrics. Undefined ratios (no predictions or no
// support) are reported as 0.
func (cm *ConfusionMatrix) Report(classes []string) *Report {
	n := len(cm.Counts)
	r := &Report{Classes: make([]ClassMetrics, n), Matrix: cm.Counts}
	predicted := make([]int, n)
	correct := 0
	for a := 0; a < n; a++ {
		for p := 0; p < n; p++ {
			predicted[p] += cm.Counts[a][p]
			r.Total += cm.Counts[a][p]
		}
		correct += cm.Counts[a][a]
	}
	for i := 0; i < n; i++ {
		support := 0
		for _, v := range cm.Counts[i] {
			support += v
		}
		tp := float64(cm.Counts[i][i])
		m := ClassMetrics{Class: className(classes, i), Support: support}
		if predicted[i] > 0 {
			m.Precision = tp / float64(predicted[i])
		}
		if support > 0 {
			m.Recall = tp / float64(support)
		}
		if m.Precision+m.Recall > 0 {
			m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
		}
		r.Classes[i] = m

		r.MacroAvg.Precision += m.Precision / float64(n)
		r.MacroAvg.Recall += m.Recall / float64(n)
		r.MacroAvg.F1 += m.F1 / float64(n)
		if r.Total > 0 {
			w := float64(support) / float64(r.Total)
			r.WeightedAvg.Precision += m.Precision * w
			r.WeightedAvg.Recall += m.Recall * w
			r.WeightedAvg.F1 += m.F1 * w
		}
	}
	r.MacroAvg.Class, r.MacroAvg.Support = "macro avg", r.Total
	r.WeightedAvg.Class, r.WeightedAvg.Support = "weighted avg", r.Total
	if r.Total > 0 {
		r.Accuracy = float64(correct) / float64(r.Total)
	}
	return r
}

func className(classes []string, i int) string {
	if i < len(classes) {
		return classes[i]
	}
	return fmt.Sprintf("class_%d", i)
}

// WriteText renders the report as an aligned table.
func (r *Report) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "\tprecision\trecall\tf1-score\tsupport\t")
	row := func(m ClassMetrics) {
		fmt.Fprintf(tw, "%s\t%.2f\t%.2f\t%.2f\t%d\t\n", m.Class, m.Precision, m.Recall, m.F1, m.Support)
	}
	for _, m := range r.Classes {
		row(m)
	}
	fmt.Fprintln(tw, "\t\t\t\t\t")
	fmt.Fprintf(tw, "accuracy\t\t\t%.2f\t%d\t\n", r.Accuracy, r.Total)
	row(r.MacroAvg)
	row(r.WeightedAvg)
	return tw.Flush()
}

func (r *Report) String() string {
	var b strings.Builder
	_ = r.WriteText(&b)
	return b.String()
}

// Evaluate runs the model over every example of src without updating it
// and returns the classification report.
func Evaluate(ctx context.Context, model nn.Model, src Source, classes []string) (*Report, error) {
	cm := NewConfusionMatrix(model.NumClasses())
	err := src.Each(ctx, dataset.Sequential(src.Len()), func(b dataset.Batch) error {
		p, err := model.Forward(b.X)
		if err != nil {
			return err
		}
		for i, pred := range nn.Argmax(p) {
			cm.Add(b.Y[i], pred)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cm.Report(classes), nil
}
