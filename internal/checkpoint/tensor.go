package checkpoint

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// MarshalJSON writes Data as a JSON array. Non-finite values, which a
// diverged run can hold, are written as the strings "NaN", "+Inf" and "-Inf".
func (t Tensor) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	name, err := json.Marshal(t.Name)
	if err != nil {
		return nil, err
	}
	shape, err := json.Marshal(t.Shape)
	if err != nil {
		return nil, err
	}
	buf.Grow(len(t.Data)*12 + 64)
	buf.WriteString(`{"name":`)
	buf.Write(name)
	buf.WriteString(`,"shape":`)
	buf.Write(shape)
	buf.WriteString(`,"data":[`)
	b := make([]byte, 0, 32)
	for i, v := range t.Data {
		if i > 0 {
			buf.WriteByte(',')
		}
		b = appendFloat(b[:0], v)
		buf.Write(b)
	}
	buf.WriteString(`]}`)
	return buf.Bytes(), nil
}

// UnmarshalJSON accepts numbers and the strings written for non-finite values.
func (t *Tensor) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name  string            `json:"name"`
		Shape []int             `json:"shape"`
		Data  []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make([]float64, len(raw.Data))
	for i, r := range raw.Data {
		v, err := parseFloat(r)
		if err != nil {
			return fmt.Errorf("tensor %s[%d]: %w", raw.Name, i, err)
		}
		out[i] = v
	}
	t.Name, t.Shape, t.Data = raw.Name, raw.Shape, out
	return nil
}

func appendFloat(b []byte, v float64) []byte {
	switch {
	case math.IsNaN(v):
		return append(b, `"NaN"`...)
	case math.IsInf(v, 1):
		return append(b, `"+Inf"`...)
	case math.IsInf(v, -1):
		return append(b, `"-Inf"`...)
	}
	return strconv.AppendFloat(b, v, 'g', -1, 64)
}

func parseFloat(r json.RawMessage) (float64, error) {
	r = bytes.TrimSpace(r)
	if len(r) > 0 && r[0] == '"' {
		var s string
		if err := json.Unmarshal(r, &s); err != nil {
			return 0, err
		}
		switch s {
		case "NaN":
			return math.NaN(), nil
		case "+Inf", "Inf":
			return math.Inf(1), nil
		case "-Inf":
			return math.Inf(-1), nil
		}
		return 0, fmt.Errorf("invalid value %q", s)
	}
	return strconv.ParseFloat(string(r), 64)
}
