package grade

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		want   float64
		wantOK bool
	}{
		{"labeled out of ten", "Feedback...\nNota: 7.5/10", 7.5, true},
		{"labeled final without scale", "nota final: 8", 8, true},
		{"labeled estimada with dash and comma", "NOTA ESTIMADA - 6,5", 6.5, true},
		{"markdown emphasis", "**Nota:** 9/10", 9, true},
		{"label wins over earlier fraction", "parcial 3/10\nNota: 6/10", 6, true},
		{"last fraction wins", "Inicialmente 3/10, mas revisado para 9/10.", 9, true},
		{"comma fraction", "Desempenho geral 8,5 / 10", 8.5, true},
		{"out of range kept as is", "nota: 15/10", 15, true},
		{"no grade", "O paciente recebeu alta.", 0, false},
		{"word containing label", "Faça uma anotação: 5 itens", 0, false},
		{"three digit numerator ignored", "score 110/10", 0, false},
		{"empty", "", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Extract(tt.text)
			assert.Equal(t, tt.wantOK, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestExtractorCustomLabel(t *testing.T) {
	e := NewExtractor("score")

	got, ok := e.Extract("Final score: 4,25")
	assert.True(t, ok)
	assert.InDelta(t, 4.25, got, 1e-9)

	// The default label no longer applies, but the N/10 fallback does
	got, ok = e.Extract("Nota: 2 de 5 ... 7/10")
	assert.True(t, ok)
	assert.InDelta(t, 7.0, got, 1e-9)
}

func TestInRange(t *testing.T) {
	assert.True(t, InRange(0))
	assert.True(t, InRange(10))
	assert.False(t, InRange(10.5))
	assert.False(t, InRange(-1))
}
