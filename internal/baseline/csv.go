package baseline

import (
	"encoding/csv"
	"io"
	"strconv"
)

// Header is the stable column order of WriteCSV.
func Header() []string {
	return []string{"key", "target", "prediction", "score", "status", "error", "model"}
}

// WriteCSV writes predictions with the Header() column order.
func WriteCSV(w io.Writer, preds []Prediction) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header()); err != nil {
		return err
	}
	for _, p := range preds {
		if err := cw.Write([]string{
			p.Key,
			p.Target,
			p.Prediction,
			strconv.FormatFloat(p.Score, 'f', 4, 64),
			p.Status,
			p.Error,
			p.Model,
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
