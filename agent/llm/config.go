package llm

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/bancoagil/servicedesk/agent/contract"
	openrouterx "github.com/bancoagil/servicedesk/pkg/openrouter"
)

// Role selects per-handler model overrides.
type Role string

const (
	RoleTriage    Role = "triage"
	RoleCredit    Role = "credit"
	RoleCurrency  Role = "currency"
	RoleInterview Role = "interview"
)

type Config struct {
	BaseURL            string        `envconfig:"BASE_URL" split_words:"true" default:"https://openrouter.ai/api/v1"`
	APIKey             string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	Model              string        `envconfig:"MODEL" split_words:"true" required:"true"`
	MaxCompletionToken int           `envconfig:"MAX_COMPLETION_TOKEN" split_words:"true" default:"2000"`
	Temperature        float32       `envconfig:"TEMPERATURE" split_words:"true" default:"0.3"`
	Timeout            time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"30s"`
	SiteURL            string        `envconfig:"SITE_URL" split_words:"true"`
	SiteName           string        `envconfig:"SITE_NAME" split_words:"true"`

	TriageModel          string  `envconfig:"TRIAGE_MODEL" split_words:"true"`
	CreditModel          string  `envconfig:"CREDIT_MODEL" split_words:"true"`
	CurrencyModel        string  `envconfig:"CURRENCY_MODEL" split_words:"true"`
	InterviewModel       string  `envconfig:"INTERVIEW_MODEL" split_words:"true"`
	TriageTemperature    float32 `envconfig:"TRIAGE_TEMPERATURE" split_words:"true" default:"-1"`
	CreditTemperature    float32 `envconfig:"CREDIT_TEMPERATURE" split_words:"true" default:"-1"`
	CurrencyTemperature  float32 `envconfig:"CURRENCY_TEMPERATURE" split_words:"true" default:"-1"`
	InterviewTemperature float32 `envconfig:"INTERVIEW_TEMPERATURE" split_words:"true" default:"-1"`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("%w: llm api key is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: default model is required", contractx.ErrValidation)
	}
	return nil
}

func (c Config) OpenRouterFor(role Role) openrouterx.Config {
	modelName := strings.TrimSpace(c.Model)
	temp := c.Temperature

	override := func(name string, t float32) {
		if v := strings.TrimSpace(name); v != "" {
			modelName = v
		}
		if t >= 0 {
			temp = t
		}
	}

	switch role {
	case RoleTriage:
		override(c.TriageModel, c.TriageTemperature)
	case RoleCredit:
		override(c.CreditModel, c.CreditTemperature)
	case RoleCurrency:
		override(c.CurrencyModel, c.CurrencyTemperature)
	case RoleInterview:
		override(c.InterviewModel, c.InterviewTemperature)
	}

	maxCompletionToken := c.MaxCompletionToken
	return openrouterx.Config{
		BaseURL:            strings.TrimSpace(c.BaseURL),
		APIKey:             strings.TrimSpace(c.APIKey),
		Model:              modelName,
		MaxCompletionToken: &maxCompletionToken,
		Temperature:        temp,
		Timeout:            c.Timeout,
		SiteURL:            strings.TrimSpace(c.SiteURL),
		SiteName:           strings.TrimSpace(c.SiteName),
	}
}
