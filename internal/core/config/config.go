// Package config loads casesim settings from ~/.config/casesim, .env and
// the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/neilberkman/casesim/internal/core/models"
	"github.com/neilberkman/casesim/internal/core/session"
	"github.com/neilberkman/casesim/internal/core/similarity"
)

const DefaultOpeningPrompt = `Iniciar nova simulação clínica.{{#retry}} Esta é a tentativa {{attempt}}: o caso gerado antes ficou parecido demais com um caso já atendido.{{/retry}}
Considere os seguintes casos anteriores do estudante {{{user}}} na especialidade {{{specialty}}}:

{{{context}}}

Gere um novo caso clínico completamente diferente dos anteriores.
Evite repetir diagnóstico, QP ou conduta.`

const DefaultFinalPrompt = `Finalizar consulta. A partir do histórico da consulta, gere:
1. O prontuário completo do paciente (### Prontuário Completo).
2. Um feedback educacional ao médico.
3. Gere uma nota objetiva de 0 a 10. Formato: Nota: X/10.`

// Providers and stores understood by the CLI
const (
	ProviderOpenAI  = "openai"
	ProviderBedrock = "bedrock"

	StoreSQLite = "sqlite"
	StoreXLSX   = "xlsx"
)

const defaultBedrockModel = "anthropic.claude-3-haiku-20240307-v1:0"

type Config struct {
	Provider string
	Store    string

	DBPath       string // empty means db.DefaultPath()
	WorkbookPath string
	DefaultUser  string

	OpenAIAPIKey  string
	OpenAIBaseURL string

	AWSRegion    string
	BedrockModel string

	// Assistants maps a specialty to its remote assistant id
	Assistants map[models.Specialty]string
	// Instructions maps an assistant id to system instructions (bedrock provider)
	Instructions map[string]string

	OpeningPromptTemplate string
	FinalPromptTemplate   string

	PollInterval    time.Duration
	PollMaxInterval time.Duration
	PollFactor      float64
	PollTimeout     time.Duration

	SimilarityThreshold float64
	SimilarityPolicy    similarity.Policy
	MaxRegenerations    int

	SectionMarkers []string
	AllowUngraded  bool
	GradeLabel     string

	// Dir is where the config was read from
	Dir string
}

type tomlConfig struct {
	Provider    string `toml:"provider"`
	Store       string `toml:"store"`
	DBPath      string `toml:"db_path"`
	Workbook    string `toml:"workbook"`
	DefaultUser string `toml:"default_user"`

	OpenAI struct {
		BaseURL string `toml:"base_url"`
	} `toml:"openai"`

	Bedrock struct {
		Region       string            `toml:"region"`
		Model        string            `toml:"model"`
		Instructions map[string]string `toml:"instructions"`
	} `toml:"bedrock"`

	Assistants map[string]string `toml:"assistants"`

	Poll struct {
		Interval    string  `toml:"interval"`
		MaxInterval string  `toml:"max_interval"`
		Factor      float64 `toml:"factor"`
		Timeout     string  `toml:"timeout"`
	} `toml:"poll"`

	Similarity struct {
		Threshold        float64 `toml:"threshold"`
		Policy           string  `toml:"policy"`
		MaxRegenerations int     `toml:"max_regenerations"`
	} `toml:"similarity"`

	Final struct {
		SectionMarkers []string `toml:"section_markers"`
		AllowUngraded  bool     `toml:"allow_ungraded"`
		GradeLabel     string   `toml:"grade_label"`
	} `toml:"final"`
}

// Default returns the built-in settings
func Default() *Config {
	def := session.DefaultPollPolicy()
	return &Config{
		Provider:              ProviderOpenAI,
		Store:                 StoreSQLite,
		BedrockModel:          defaultBedrockModel,
		Assistants:            make(map[models.Specialty]string),
		Instructions:          make(map[string]string),
		OpeningPromptTemplate: DefaultOpeningPrompt,
		FinalPromptTemplate:   DefaultFinalPrompt,
		PollInterval:          def.Interval,
		PollMaxInterval:       def.MaxInterval,
		PollFactor:            def.Factor,
		PollTimeout:           def.MaxWait,
		SimilarityThreshold:   similarity.DefaultThreshold,
		SimilarityPolicy:      similarity.PolicyWarn,
		MaxRegenerations:      2,
		SectionMarkers:        []string{"prontuário"},
	}
}

// ConfigDir returns ~/.config/casesim
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "casesim"), nil
}

// Load reads config from ~/.config/casesim/ and a .env in the working directory
func Load() (*Config, error) {
	_ = godotenv.Load()

	dir, err := ConfigDir()
	if err != nil {
		cfg := Default()
		return cfg, applyEnv(cfg) // Use defaults
	}
	return LoadFrom(dir)
}

// LoadFrom reads config.toml, prompt overrides and .env from dir, then
// applies environment overrides. A missing dir yields the defaults.
func LoadFrom(dir string) (*Config, error) {
	cfg := Default()
	cfg.Dir = dir

	_ = godotenv.Load(filepath.Join(dir, ".env"))

	tomlPath := filepath.Join(dir, "config.toml")
	if _, err := os.Stat(tomlPath); err == nil {
		var tc tomlConfig
		if _, err := toml.DecodeFile(tomlPath, &tc); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", tomlPath, err)
		}
		if err := cfg.merge(&tc); err != nil {
			return nil, fmt.Errorf("%s: %w", tomlPath, err)
		}
	}

	// If custom templates exist, use them
	if data, err := os.ReadFile(filepath.Join(dir, "opening_prompt.txt")); err == nil {
		cfg.OpeningPromptTemplate = string(data)
	}
	if data, err := os.ReadFile(filepath.Join(dir, "final_prompt.txt")); err == nil {
		cfg.FinalPromptTemplate = string(data)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) merge(tc *tomlConfig) error {
	setString(&c.Provider, tc.Provider)
	setString(&c.Store, tc.Store)
	setString(&c.DBPath, tc.DBPath)
	setString(&c.WorkbookPath, tc.Workbook)
	setString(&c.DefaultUser, tc.DefaultUser)
	setString(&c.OpenAIBaseURL, tc.OpenAI.BaseURL)
	setString(&c.AWSRegion, tc.Bedrock.Region)
	setString(&c.BedrockModel, tc.Bedrock.Model)
	for id, text := range tc.Bedrock.Instructions {
		c.Instructions[id] = text
	}

	for name, id := range tc.Assistants {
		sp, err := models.ParseSpecialty(strings.ReplaceAll(name, "_", "-"))
		if err != nil {
			return fmt.Errorf("assistants: %w", err)
		}
		c.Assistants[sp] = strings.TrimSpace(id)
	}

	if err := setDuration(&c.PollInterval, tc.Poll.Interval, "poll.interval"); err != nil {
		return err
	}
	if err := setDuration(&c.PollMaxInterval, tc.Poll.MaxInterval, "poll.max_interval"); err != nil {
		return err
	}
	if err := setDuration(&c.PollTimeout, tc.Poll.Timeout, "poll.timeout"); err != nil {
		return err
	}
	if tc.Poll.Factor > 0 {
		c.PollFactor = tc.Poll.Factor
	}

	if tc.Similarity.Threshold > 0 {
		c.SimilarityThreshold = tc.Similarity.Threshold
	}
	if tc.Similarity.Policy != "" {
		p, err := similarity.ParsePolicy(tc.Similarity.Policy)
		if err != nil {
			return err
		}
		c.SimilarityPolicy = p
	}
	if tc.Similarity.MaxRegenerations > 0 {
		c.MaxRegenerations = tc.Similarity.MaxRegenerations
	}

	if tc.Final.SectionMarkers != nil {
		c.SectionMarkers = tc.Final.SectionMarkers
	}
	c.AllowUngraded = tc.Final.AllowUngraded
	setString(&c.GradeLabel, tc.Final.GradeLabel)
	return nil
}

const assistantEnvPrefix = "CASESIM_ASSISTANT_"

func applyEnv(c *Config) error {
	setString(&c.OpenAIAPIKey, os.Getenv("OPENAI_API_KEY"))
	setString(&c.OpenAIBaseURL, os.Getenv("OPENAI_BASE_URL"))
	setString(&c.Provider, os.Getenv("CASESIM_PROVIDER"))
	setString(&c.Store, os.Getenv("CASESIM_STORE"))
	setString(&c.WorkbookPath, os.Getenv("CASESIM_WORKBOOK"))
	setString(&c.DBPath, os.Getenv("CASESIM_DB"))
	setString(&c.DefaultUser, os.Getenv("CASESIM_USER"))
	setString(&c.AWSRegion, os.Getenv("AWS_REGION"))

	if err := setDuration(&c.PollInterval, os.Getenv("CASESIM_POLL_INTERVAL"), "CASESIM_POLL_INTERVAL"); err != nil {
		return err
	}
	if err := setDuration(&c.PollTimeout, os.Getenv("CASESIM_POLL_TIMEOUT"), "CASESIM_POLL_TIMEOUT"); err != nil {
		return err
	}
	if v := os.Getenv("CASESIM_SIMILARITY_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("CASESIM_SIMILARITY_THRESHOLD: %w", err)
		}
		c.SimilarityThreshold = f
	}

	for _, kv := range os.Environ() {
		key, val, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, assistantEnvPrefix) || val == "" {
			continue
		}
		name := strings.ReplaceAll(strings.TrimPrefix(key, assistantEnvPrefix), "_", "-")
		sp, err := models.ParseSpecialty(name)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		c.Assistants[sp] = strings.TrimSpace(val)
	}

	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	c.Store = strings.ToLower(strings.TrimSpace(c.Store))
	return nil
}

// Validate reports every setting the selected provider and store still need
func (c *Config) Validate() error {
	var errs []error

	switch c.Provider {
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is not set"))
		}
		for _, sp := range models.Specialties {
			if c.Assistants[sp] == "" {
				errs = append(errs, fmt.Errorf("no assistant id for %s (set [assistants] %s or %s%s)",
					sp.Label(), sp, assistantEnvPrefix, strings.ToUpper(strings.ReplaceAll(string(sp), "-", "_"))))
			}
		}
	case ProviderBedrock:
		if c.BedrockModel == "" {
			errs = append(errs, errors.New("bedrock.model is empty"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown provider %q (want %s or %s)", c.Provider, ProviderOpenAI, ProviderBedrock))
	}

	switch c.Store {
	case StoreSQLite:
	case StoreXLSX:
		if c.WorkbookPath == "" {
			errs = append(errs, errors.New("xlsx store needs a workbook path (CASESIM_WORKBOOK or --workbook)"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store %q (want %s or %s)", c.Store, StoreSQLite, StoreXLSX))
	}

	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold > 1 {
		errs = append(errs, fmt.Errorf("similarity threshold %.2f outside (0, 1]", c.SimilarityThreshold))
	}

	return errors.Join(errs...)
}

// PollPolicy returns the configured run polling policy
func (c *Config) PollPolicy() session.PollPolicy {
	return session.PollPolicy{
		Interval:    c.PollInterval,
		MaxInterval: c.PollMaxInterval,
		Factor:      c.PollFactor,
		MaxWait:     c.PollTimeout,
	}
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v, name string) error {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = d
	return nil
}
