package core

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"os"
)

// Cosine returns dot(a,b)/(|a||b|) clamped to [-1, 1]. It is 0 when either
// norm is zero or the dimensions differ. A single square root of the product
// of the squared norms keeps Cosine(a, a) exactly 1.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return math.Max(-1, math.Min(1, dot/math.Sqrt(na*nb)))
}

// Normalize scales v to unit length in place. Zero vectors are left untouched.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

// FormatClock renders seconds as mm:ss (minutes wrap at the hour).
func FormatClock(sec float64) string {
	s := int(math.Max(sec, 0))
	return fmt.Sprintf("%02d:%02d", (s%3600)/60, s%60)
}

// FormatHHMMSS renders seconds as hh:mm:ss.
func FormatHHMMSS(sec float64) string {
	s := int(math.Max(sec, 0))
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, (s%3600)/60, s%60)
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "write json error: %v", err)
	}
}
