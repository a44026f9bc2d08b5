package routes

import (
	"net/http"
	"os"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	httpSwagger "github.com/swaggo/http-swagger"
	"golang.org/x/time/rate"

	"github.com/kudichat/kudichat/internal/admin"
	"github.com/kudichat/kudichat/internal/auth"
	"github.com/kudichat/kudichat/internal/beneficiary"
	"github.com/kudichat/kudichat/internal/catalog"
	"github.com/kudichat/kudichat/internal/chat"
	"github.com/kudichat/kudichat/internal/fees"
	"github.com/kudichat/kudichat/internal/flow"
	"github.com/kudichat/kudichat/internal/ledger"
	"github.com/kudichat/kudichat/internal/middleware"
	"github.com/kudichat/kudichat/internal/notify"
	"github.com/kudichat/kudichat/internal/provider"
	"github.com/kudichat/kudichat/internal/transfer"
	"github.com/kudichat/kudichat/internal/user"
	"github.com/kudichat/kudichat/internal/vtu"
	"github.com/kudichat/kudichat/internal/webhook"
	"github.com/kudichat/kudichat/internal/worker"
	"github.com/kudichat/kudichat/pkg/cache"
	"github.com/kudichat/kudichat/pkg/config"
	"github.com/kudichat/kudichat/pkg/database"
	"github.com/kudichat/kudichat/pkg/logger"
)

// App holds everything main needs beyond the HTTP handler: the background
// workers that run alongside the server.
type App struct {
	Handler     http.Handler
	Completion  *worker.CompletionWorker
	Sweeper     *worker.Sweeper
	Maintenance *worker.MaintenanceRunner
}

func RegisterRoutes(r *mux.Router, cfg config.Config, redisClient *cache.RedisClient) *App {
	userRepo := user.NewRepository(database.DB)
	ledgerRepo := ledger.NewRepository(database.DB)
	beneficiaryRepo := beneficiary.NewRepository(database.DB)
	kvRepo := catalog.NewKVRepository(database.DB)

	states := user.NewStateStore(userRepo, redisClient)
	policy := fees.NewPolicy(cfg.TransferFeeStrategy)

	messenger := notify.NewWhatsApp(cfg)
	providerClient := provider.NewClient(cfg)
	provisioner := provider.NewProvisioner(providerClient, ledgerRepo, redisClient, messenger)

	orchestrator := transfer.NewOrchestrator(cfg, userRepo, ledgerRepo, beneficiaryRepo,
		providerClient, states, messenger)

	vtuService := vtu.NewService(userRepo, ledgerRepo, kvRepo, vtu.NewClient(cfg), policy)

	codec, err := flow.NewCodec(cfg.FlowPrivateKey)
	if err != nil {
		logger.Fatal("Could not load flow private key", logger.Fields{logger.ErrorKey: err.Error()})
	}
	tokens := flow.NewTokens(cfg.FlowTokenSecret)
	sessions := flow.NewSessions(redisClient)
	machine := flow.NewMachine(userRepo, ledgerRepo, kvRepo, sessions, redisClient, tokens, provisioner)
	flowHandler := flow.NewHandler(codec, machine)

	chatRouter := &chat.Router{
		Cfg:           cfg,
		Users:         userRepo,
		States:        states,
		Ledger:        ledgerRepo,
		Beneficiaries: beneficiaryRepo,
		Banks:         providerClient,
		Provisioner:   provisioner,
		Airtime:       vtuService,
		Tokens:        tokens,
		Messenger:     messenger,
	}
	chatHandler := chat.NewHandler(cfg.WhatsAppVerifyToken, chatRouter)

	webhookHandler := webhook.NewHandler(cfg, ledgerRepo, userRepo, policy, messenger)

	authHandler := auth.NewHandler(cfg)
	adminRepo := admin.NewRepository(database.DB)
	adminHandler := admin.NewHandler(adminRepo, ledgerRepo, userRepo, kvRepo)

	r.Use(middleware.LoggingMiddleware)

	// inbound webhooks are rate limited per source IP; the provider and
	// Meta both retry, so a burst allowance matters more than the rate
	webhookLimiter := middleware.NewRateLimiter(rate.Limit(10), 30)

	hooksR := r.PathPrefix("/webhooks").Subrouter()
	hooksR.Use(webhookLimiter.Limit)
	hooksR.HandleFunc("/whatsapp", chatHandler.Verify).Methods("GET")
	hooksR.HandleFunc("/whatsapp", chatHandler.Receive).Methods("POST")

	flowR := r.PathPrefix("/flow").Subrouter()
	flowR.Use(webhookLimiter.Limit)
	flowR.HandleFunc("/endpoint", flowHandler.Endpoint).Methods("POST")

	providerR := r.PathPrefix("/webhook").Subrouter()
	providerR.Use(webhookLimiter.Limit)
	providerR.HandleFunc("/{provider}", webhookHandler.Receive).Methods("POST")

	authR := r.PathPrefix("/auth").Subrouter()
	authR.HandleFunc("/google", authHandler.Login).Methods("GET")
	authR.HandleFunc("/google/callback", authHandler.Callback).Methods("GET")

	adminR := r.PathPrefix("/admin").Subrouter()
	adminR.Use(auth.AdminJWTMiddleware(cfg))
	adminR.HandleFunc("/dashboard", adminHandler.Dashboard).Methods("GET")
	adminR.HandleFunc("/users/{userId}/wallet/freeze", adminHandler.FreezeWallet).Methods("POST")
	adminR.HandleFunc("/users/{userId}/wallet/unfreeze", adminHandler.UnfreezeWallet).Methods("POST")
	adminR.HandleFunc("/users/{userId}/wallet/credit", adminHandler.CreditWallet).Methods("POST")
	adminR.HandleFunc("/users/{userId}/ban", adminHandler.BanUser).Methods("POST")
	adminR.HandleFunc("/users/{userId}/transactions", adminHandler.UserTransactions).Methods("GET")
	adminR.HandleFunc("/data-pricing", adminHandler.Pricing).Methods("GET")
	adminR.HandleFunc("/data-pricing/plan", adminHandler.SetPlanPrice).Methods("POST")

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	if cfg.Env != "production" {
		r.HandleFunc("/swagger.yaml", func(w http.ResponseWriter, r *http.Request) {
			content, err := os.ReadFile("docs/swagger.yaml")
			if err != nil {
				logger.Error("Failed to read swagger.yaml", logger.Fields{logger.ErrorKey: err.Error()})
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/yaml")
			w.Write(content)
		})

		r.PathPrefix("/swagger/").Handler(httpSwagger.Handler(
			httpSwagger.URL("/swagger.yaml"),
		))
		logger.Info("Swagger documentation enabled at /swagger/index.html")
	}

	corsObj := handlers.CORS(
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)

	return &App{
		Handler:     corsObj(r),
		Completion:  worker.NewCompletionWorker(redisClient, userRepo, orchestrator, vtuService, messenger),
		Sweeper:     worker.NewSweeper(ledgerRepo, userRepo, redisClient, messenger),
		Maintenance: worker.NewMaintenanceRunner(ledgerRepo, policy),
	}
}
