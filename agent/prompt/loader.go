package prompt

import (
	_ "embed"
	"strings"
)

var (
	//go:embed template/triage.txt
	triageRaw string

	//go:embed template/intent.txt
	intentRaw string

	//go:embed template/birthdate.txt
	birthdateRaw string

	//go:embed template/credit.txt
	creditRaw string

	//go:embed template/credit_extract.txt
	creditExtractRaw string

	//go:embed template/currency.txt
	currencyRaw string

	//go:embed template/interview.txt
	interviewRaw string

	//go:embed template/interview_extract.txt
	interviewExtractRaw string
)

// PromptSet holds loaded prompt content. Entries with format verbs are
// filled in by their handlers via fmt.Sprintf.
type PromptSet struct {
	Triage           string
	Intent           string
	BirthDate        string
	Credit           string
	CreditExtract    string
	Currency         string
	Interview        string
	InterviewExtract string
}

// LoadPromptSet returns a PromptSet with trimmed prompt strings. Safe to
// call concurrently; the embed is compile-time.
func LoadPromptSet() PromptSet {
	return PromptSet{
		Triage:           strings.TrimSpace(triageRaw),
		Intent:           strings.TrimSpace(intentRaw),
		BirthDate:        strings.TrimSpace(birthdateRaw),
		Credit:           strings.TrimSpace(creditRaw),
		CreditExtract:    strings.TrimSpace(creditExtractRaw),
		Currency:         strings.TrimSpace(currencyRaw),
		Interview:        strings.TrimSpace(interviewRaw),
		InterviewExtract: strings.TrimSpace(interviewExtractRaw),
	}
}
