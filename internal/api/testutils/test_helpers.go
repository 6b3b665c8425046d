package testutils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"golang.org/x/crypto/bcrypt"

	"github.com/advisory-platform/advisory-server/internal/api"
	"github.com/advisory-platform/advisory-server/internal/config"
	"github.com/advisory-platform/advisory-server/internal/logging"
	"github.com/advisory-platform/advisory-server/internal/models"
	"github.com/advisory-platform/advisory-server/internal/realtime"
	"github.com/advisory-platform/advisory-server/internal/repository"
	"github.com/advisory-platform/advisory-server/internal/service"
)

// TestContext holds all dependencies for tests
type TestContext struct {
	Router        *gin.Engine
	Repository    repository.Repository
	Ledger        service.LedgerService
	Queue         service.QueueService
	Notifications service.NotificationService
	Hub           *realtime.Hub
	JWTSecret     []byte
	DB            *sqlx.DB
	TestUserID    string
	TestUserJWT   string
}

// SetupTestContext creates a new test context with initialized dependencies
func SetupTestContext(t *testing.T) *TestContext {
	// Load configuration from environment
	cfg := config.LoadConfig()

	// Override with test-specific config
	if cfg.Database.DBName == "advisory" && cfg.Database.TestDBName != "" {
		cfg.Database.DBName = cfg.Database.TestDBName
	} else if cfg.Database.TestDBName == "" {
		// Fallback to hardcoded test DB if not in environment
		cfg.Database.DBName = "advisory_test"
	}

	// Use a test JWT secret
	if cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = "test-secret-key"
	}

	// Set up database
	db, err := config.SetupDatabase(cfg)
	assert.NoError(t, err, "Failed to set up test database")

	// Create repository
	repo := repository.NewPostgresRepository(db)

	// Change-feed hub
	hub := realtime.NewHub(cfg.Realtime.SubscriberBuffer)

	// Create services
	notificationSvc := service.NewDefaultNotificationService(repo, hub)
	ledgerSvc := service.NewDefaultLedgerService(repo, hub, notificationSvc, cfg.Ledger.LowBalanceThreshold)
	queueSvc := service.NewDefaultQueueService(repo, hub, notificationSvc, cfg.Queue.DefaultEstimatedMinutes)
	authSvc := service.NewDefaultAuthService(repo, notificationSvc, cfg.Auth.JWTSecret)

	// Create API handler
	handler := api.NewHandler(authSvc, ledgerSvc, queueSvc, notificationSvc, hub, logging.New("api-test"))

	// Set up Gin router
	gin.SetMode(gin.TestMode)
	router := gin.Default()

	// Add middleware for JWT secret
	router.Use(func(c *gin.Context) {
		c.Set("jwtSecret", []byte(cfg.Auth.JWTSecret))
		c.Next()
	})

	// Set up routes
	handler.SetupRoutes(router)

	// Create test user if needed
	testUserID, token := createTestUser(t, repo, cfg.Auth.JWTSecret)

	return &TestContext{
		Router:        router,
		Repository:    repo,
		Ledger:        ledgerSvc,
		Queue:         queueSvc,
		Notifications: notificationSvc,
		Hub:           hub,
		JWTSecret:     []byte(cfg.Auth.JWTSecret),
		DB:            db,
		TestUserID:    testUserID,
		TestUserJWT:   token,
	}
}

// CleanupTestContext cleans up test resources
func CleanupTestContext(t *TestContext) {
	// Clean up database
	if t.DB != nil {
		cleanupTestDatabase(nil, t.Repository)
		t.DB.Close()
	}
}

// cleanupTestDatabase removes any existing test users and data
func cleanupTestDatabase(t *testing.T, repo repository.Repository) {
	// Execute cleanup SQL directly through the DB connection
	if pgRepo, ok := repo.(*repository.PostgresRepository); ok {
		db := pgRepo.GetDB()

		// Children first, users last (foreign keys)
		tables := []string{
			"notifications",
			"package_queue",
			"credit_transactions",
			"credit_balances",
			"users",
		}
		for _, table := range tables {
			_, err := db.Exec("DELETE FROM " + table)
			if t != nil && err != nil {
				t.Logf("Warning: Failed to clean %s: %v", table, err)
			}
		}
	}
}

// Helper functions
func createTestUser(t *testing.T, repo repository.Repository, jwtSecret string) (string, string) {
	// Clean up any existing test users first
	cleanupTestDatabase(t, repo)

	hashedPassword, _ := bcrypt.GenerateFromPassword([]byte("testpassword"), bcrypt.DefaultCost)

	user := &models.User{
		ID:        uuid.New().String(),
		Email:     "testuser@example.com",
		Name:      "Test User",
		Password:  string(hashedPassword),
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	err := repo.CreateUser(context.Background(), user)
	assert.NoError(t, err, "Failed to create test user")

	// Generate JWT token with the provided secret key
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": user.ID,
		"exp": time.Now().Add(24 * time.Hour).Unix(),
		"iat": time.Now().Unix(),
	})

	tokenString, err := token.SignedString([]byte(jwtSecret))
	assert.NoError(t, err, "Failed to generate JWT token")

	return user.ID, tokenString
}

// CreateSecondaryUser registers an additional user and returns its id
// and a signed JWT, for tests that exercise cross-owner isolation.
func CreateSecondaryUser(t *testing.T, testCtx *TestContext) (string, string) {
	hashedPassword, _ := bcrypt.GenerateFromPassword([]byte("otherpassword"), bcrypt.DefaultCost)

	user := &models.User{
		ID:       uuid.New().String(),
		Email:    fmt.Sprintf("other-%s@example.com", uuid.New().String()[:8]),
		Name:     "Other User",
		Password: string(hashedPassword),
	}

	err := testCtx.Repository.CreateUser(context.Background(), user)
	assert.NoError(t, err, "Failed to create secondary user")

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": user.ID,
		"exp": time.Now().Add(24 * time.Hour).Unix(),
		"iat": time.Now().Unix(),
	})

	tokenString, err := token.SignedString(testCtx.JWTSecret)
	assert.NoError(t, err, "Failed to generate JWT token")

	return user.ID, tokenString
}

// SeedCredits gives the test user a starting balance via the ledger
// service, so the transaction log stays consistent with the balance.
func SeedCredits(t *testing.T, testCtx *TestContext, currency models.Currency, amount int64) {
	_, err := testCtx.Ledger.Add(context.Background(), testCtx.TestUserID, models.AddCreditsRequest{
		Currency:    currency,
		Amount:      amount,
		Description: "test seed",
		FeatureType: "test",
	})
	assert.NoError(t, err, "Failed to seed credits")
}

// PerformRequest executes an HTTP request against the router
func PerformRequest(r http.Handler, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer

	if body != nil {
		jsonBody, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBody)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, _ := http.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// AuthHeaders returns headers with Authorization token
func AuthHeaders(token string) map[string]string {
	return map[string]string{
		"Authorization": fmt.Sprintf("Bearer %s", token),
	}
}
