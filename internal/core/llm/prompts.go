package llm

import (
	"fmt"
	"strings"

	"github.com/cbroglie/mustache"
)

// NoHistoryContext stands in for the prior-case block of a student's first case
const NoHistoryContext = "Nenhum caso anterior registrado."

// DefaultInstructions drive the simulated patient when no assistant-specific
// instructions are configured (local provider only).
const DefaultInstructions = `Você é um paciente simulado em um treinamento clínico para estudantes de medicina.
Ao receber o pedido de um novo caso, apresente-se como paciente: idade, sexo e queixa principal, sem revelar o diagnóstico.
Responda às perguntas do médico apenas com o que o paciente saberia dizer. Resultados de exame físico e complementares só quando solicitados.
Quando o médico pedir para finalizar a consulta, saia do papel de paciente e siga exatamente o formato pedido.`

// OpeningData fills the opening prompt template
type OpeningData struct {
	User      string
	Specialty string   // display label
	Summaries []string // prior case summaries, oldest first
	Attempt   int      // 1 for the first try, higher after a near-duplicate
}

// RenderOpeningPrompt renders the anti-repetition opening instruction
func RenderOpeningPrompt(tmpl string, data OpeningData) (string, error) {
	context := strings.Join(data.Summaries, "\n")
	if strings.TrimSpace(context) == "" {
		context = NoHistoryContext
	}

	out, err := mustache.Render(tmpl, map[string]any{
		"user":        data.User,
		"specialty":   data.Specialty,
		"context":     context,
		"has_history": len(data.Summaries) > 0,
		"attempt":     data.Attempt,
		"retry":       data.Attempt > 1,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render opening prompt: %w", err)
	}
	return out, nil
}

// RenderFinalPrompt renders the finalize directive
func RenderFinalPrompt(tmpl, user, specialty string) (string, error) {
	out, err := mustache.Render(tmpl, map[string]any{
		"user":      user,
		"specialty": specialty,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render final prompt: %w", err)
	}
	return out, nil
}
