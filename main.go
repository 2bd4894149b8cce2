package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	contractx "github.com/bancoagil/servicedesk/agent/contract"
	handlersx "github.com/bancoagil/servicedesk/agent/handlers"
	llmx "github.com/bancoagil/servicedesk/agent/llm"
	desknode "github.com/bancoagil/servicedesk/agent/nodes"
	"github.com/bancoagil/servicedesk/agent/orchestrator"
	promptx "github.com/bancoagil/servicedesk/agent/prompt"
	recordsx "github.com/bancoagil/servicedesk/agent/records"
	statex "github.com/bancoagil/servicedesk/agent/state"
	toolx "github.com/bancoagil/servicedesk/agent/tool"
	configx "github.com/bancoagil/servicedesk/pkg/config"
	"github.com/bancoagil/servicedesk/pkg/fxrates"
	_ "github.com/bancoagil/servicedesk/pkg/logger/autoload"
	openrouterx "github.com/bancoagil/servicedesk/pkg/openrouter"
	serverx "github.com/bancoagil/servicedesk/server"
)

type AppConfig struct {
	Addr        string `envconfig:"ADDR" default:":8080"`
	DataDir     string `envconfig:"DATA_DIR" split_words:"true" default:"./data"`
	PostgresDSN string `envconfig:"POSTGRES_DSN" split_words:"true"`
	RedisURL    string `envconfig:"UPSTASH_URL" split_words:"true"`
}

func main() {
	ctx := context.Background()
	appCfg := configx.MustNew[AppConfig]("")

	llmCfg := configx.MustNew[llmx.Config]("LLM")
	if err := llmCfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid llm configuration")
	}

	records := buildRecordStore(appCfg)
	store := buildSessionStore(appCfg)
	quotes := buildQuoteClient()
	prompts := promptx.LoadPromptSet()

	gateways := map[llmx.Role]contractx.Gateway{}
	for _, role := range []llmx.Role{llmx.RoleTriage, llmx.RoleCredit, llmx.RoleCurrency, llmx.RoleInterview} {
		gateways[role] = buildGateway(ctx, llmCfg.OpenRouterFor(role))
	}

	orch, err := orchestrator.New(store, desknode.Handlers{
		Auth:      handlersx.NewAuth(gateways[llmx.RoleTriage], records, prompts),
		Triage:    handlersx.NewTriage(gateways[llmx.RoleTriage], prompts),
		Credit:    handlersx.NewCredit(gateways[llmx.RoleCredit], records, prompts),
		Currency:  handlersx.NewCurrency(gateways[llmx.RoleCurrency], toolx.NewExecutor(quotes), prompts),
		Interview: handlersx.NewInterview(gateways[llmx.RoleInterview], records, prompts),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("build orchestrator")
	}

	srv := &http.Server{
		Addr:              appCfg.Addr,
		Handler:           serverx.New(orch).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().Str("addr", appCfg.Addr).Msg("service desk listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("http server stopped")
	}
}

func buildGateway(ctx context.Context, cfg openrouterx.Config) contractx.Gateway {
	chatModel, err := cfg.New(ctx)
	if err != nil {
		log.Fatal().Err(err).Str("model", cfg.Model).Msg("build chat model")
	}
	sdk := openrouterx.NewClient(cfg)
	if sdk == nil {
		log.Fatal().Str("model", cfg.Model).Msg("build extraction client")
	}
	gateway, err := llmx.NewGateway(ctx, chatModel, sdk, cfg.Model)
	if err != nil {
		log.Fatal().Err(err).Str("model", cfg.Model).Msg("build gateway")
	}
	return gateway
}

func buildRecordStore(cfg *AppConfig) contractx.RecordStore {
	if cfg.PostgresDSN != "" {
		store, err := recordsx.NewPostgresStore(recordsx.PostgresConfig{DSN: cfg.PostgresDSN})
		if err != nil {
			log.Fatal().Err(err).Msg("connect postgres record store")
		}
		log.Info().Msg("using postgres record store")
		return store
	}

	store, err := recordsx.NewCSVStore(recordsx.CSVConfig{Dir: cfg.DataDir})
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.DataDir).Msg("open csv record store")
	}
	log.Info().Str("dir", cfg.DataDir).Msg("using csv record store")
	return store
}

func buildSessionStore(cfg *AppConfig) statex.Store {
	if cfg.RedisURL == "" {
		log.Info().Msg("using in-memory session store")
		return statex.NewMemoryStore()
	}

	redisCfg := configx.MustNew[statex.UpstashRedisConfig]("UPSTASH")
	store, err := statex.NewUpstashRedisStore(*redisCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("connect upstash session store")
	}
	log.Info().Msg("using upstash session store")
	return store
}

func buildQuoteClient() toolx.Quoter {
	if os.Getenv("FXRATES_URL") == "" {
		log.Warn().Msg("fxrates url not set, currency quotes unavailable")
		return nil
	}
	fxCfg := configx.MustNew[fxrates.Config]("FXRATES")
	return fxrates.MustNew(*fxCfg)
}
