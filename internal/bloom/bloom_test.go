package bloom

import "testing"

func TestNoFalseNegatives(t *testing.T) {
	keys := [][]byte{[]byte("alpha"), []byte("beta"), []byte("gamma"), []byte("delta")}
	f := New(len(keys), 10)
	for _, k := range keys {
		f.Add(BloomHash(k))
	}
	for _, k := range keys {
		if !f.MayContain(BloomHash(k)) {
			t.Fatalf("false negative for key %q", k)
		}
	}
}

func TestFalsePositiveRateIsReasonable(t *testing.T) {
	const n = 1000
	f := New(n, 10)
	present := make([][]byte, n)
	for i := 0; i < n; i++ {
		k := []byte{byte(i), byte(i >> 8), 'p'}
		present[i] = k
		f.Add(BloomHash(k))
	}
	falsePositives := 0
	const probes = 2000
	for i := 0; i < probes; i++ {
		k := []byte{byte(i), byte(i >> 8), 'a'}
		if f.MayContain(BloomHash(k)) {
			falsePositives++
		}
	}
	// At 10 bits/key the false-positive rate should be well under 5%.
	if rate := float64(falsePositives) / float64(probes); rate > 0.05 {
		t.Fatalf("false positive rate too high: %f", rate)
	}
}

func TestBytesDecodeRoundTrip(t *testing.T) {
	f := New(16, 10)
	f.Add(BloomHash([]byte("x")))
	f.Add(BloomHash([]byte("y")))

	data := f.Bytes()
	g, ok := Decode(data)
	if !ok {
		t.Fatalf("Decode failed")
	}
	if !g.MayContain(BloomHash([]byte("x"))) || !g.MayContain(BloomHash([]byte("y"))) {
		t.Fatalf("decoded filter lost membership")
	}
}

func TestEmptyFilterNeverFalseNegative(t *testing.T) {
	f := New(0, 10)
	// Vacuous: nothing was added, MayContain may say yes or no, it must
	// just not panic.
	_ = f.MayContain(BloomHash([]byte("anything")))
}
