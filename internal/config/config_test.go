package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// configEnvVars lists every environment variable the tests touch so each
// test can start from a clean slate and restore the caller's environment.
var configEnvVars = []string{
	"IMFCS_SERVER_PORT", "IMFCS_SERVER_READ_TIMEOUT", "IMFCS_SERVER_WRITE_TIMEOUT",
	"IMFCS_SERVER_OPERATION_TIMEOUT",
	"IMFCS_SECURITY_ALLOWED_ORIGINS", "IMFCS_SECURITY_ENABLE_CORS",
	"IMFCS_LOGGING_LEVEL", "IMFCS_LOGGING_FORMAT", "IMFCS_LOGGING_OUTPUT",
	"IMFCS_PATHS_DATA_DIR", "IMFCS_PATHS_WEB_DIR", "IMFCS_PATHS_LOGS_DIR",
	"IMFCS_PATHS_RULES_FILE", "IMFCS_PATHS_DATABASE_FILE",
	"IMFCS_WEBSOCKET_READ_BUFFER_SIZE", "IMFCS_WEBSOCKET_WRITE_BUFFER_SIZE",
	"IMFCS_SCREENING_WORKERS", "IMFCS_SCREENING_SNR_LAST_LAG", "IMFCS_SCREENING_RSD_THRESHOLD",
}

func saveEnv(t *testing.T) {
	t.Helper()
	original := make(map[string]string)
	for _, envVar := range configEnvVars {
		original[envVar] = os.Getenv(envVar)
		os.Unsetenv(envVar)
	}
	t.Cleanup(func() {
		for _, envVar := range configEnvVars {
			if val := original[envVar]; val != "" {
				os.Setenv(envVar, val)
			} else {
				os.Unsetenv(envVar)
			}
		}
	})
}

// TestLoad tests the Load function with various scenarios
func TestLoad(t *testing.T) {
	saveEnv(t)

	tests := []struct {
		name        string
		setupEnv    func()
		setupFile   func() string // returns temp file path
		wantErr     bool
		validateCfg func(*testing.T, *Config)
	}{
		{
			name: "default configuration with no env vars",
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
				assert.Equal(t, 15*time.Second, cfg.Server.WriteTimeout)
				assert.Equal(t, 60*time.Second, cfg.Server.IdleTimeout)
				assert.Equal(t, 1048576, cfg.Server.MaxHeaderBytes)
				assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
				assert.Equal(t, 1*time.Hour, cfg.Server.OperationTimeout)

				assert.Equal(t, []string{"http://localhost:8080"}, cfg.Security.AllowedOrigins)
				assert.True(t, cfg.Security.EnableCORS)
				assert.True(t, cfg.Security.RateLimit.Enabled)
				assert.Equal(t, 100.0, cfg.Security.RateLimit.RPS)
				assert.Equal(t, 50, cfg.Security.RateLimit.Burst)

				assert.Equal(t, "info", cfg.Logging.Level)
				assert.Equal(t, "json", cfg.Logging.Format)
				assert.Equal(t, "both", cfg.Logging.Output)
				assert.Equal(t, "logs/app.log", cfg.Logging.FilePath)
				assert.False(t, cfg.Logging.Development)

				assert.Equal(t, "data", cfg.Paths.DataDir)
				assert.Equal(t, "web", cfg.Paths.WebDir)
				assert.Equal(t, "logs", cfg.Paths.LogsDir)
				assert.Equal(t, "rules.yaml", cfg.Paths.RulesFile)
				assert.Equal(t, "data/cache/imfcs.db", cfg.Paths.DatabaseFile)
				assert.NotEmpty(t, cfg.Paths.ExecutableDir)

				assert.Equal(t, 1024, cfg.WebSocket.ReadBufferSize)
				assert.Equal(t, 1024, cfg.WebSocket.WriteBufferSize)
				assert.Equal(t, 30*time.Second, cfg.WebSocket.PingPeriod)
				assert.Equal(t, 60*time.Second, cfg.WebSocket.PongWait)

				assert.Equal(t, 4, cfg.Screening.Workers)
				assert.Equal(t, 6, cfg.Screening.SNRLastLag)
				assert.Equal(t, 1.0, cfg.Screening.RSDThreshold)
			},
		},
		{
			name: "custom environment variables",
			setupEnv: func() {
				os.Setenv("IMFCS_SERVER_PORT", "9090")
				os.Setenv("IMFCS_SERVER_READ_TIMEOUT", "30s")
				os.Setenv("IMFCS_SECURITY_ALLOWED_ORIGINS", "http://example.com,https://example.com")
				os.Setenv("IMFCS_SECURITY_ENABLE_CORS", "false")
				os.Setenv("IMFCS_LOGGING_LEVEL", "debug")
				os.Setenv("IMFCS_LOGGING_FORMAT", "text")
				os.Setenv("IMFCS_WEBSOCKET_READ_BUFFER_SIZE", "2048")
				os.Setenv("IMFCS_SCREENING_WORKERS", "8")
				os.Setenv("IMFCS_SCREENING_RSD_THRESHOLD", "0.5")
			},
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 9090, cfg.Server.Port)
				assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
				assert.Equal(t, []string{"http://example.com", "https://example.com"}, cfg.Security.AllowedOrigins)
				assert.False(t, cfg.Security.EnableCORS)
				assert.Equal(t, "debug", cfg.Logging.Level)
				assert.Equal(t, "json", cfg.Logging.Format) // validate() forces json
				assert.Equal(t, 2048, cfg.WebSocket.ReadBufferSize)
				assert.Equal(t, 8, cfg.Screening.Workers)
				assert.Equal(t, 0.5, cfg.Screening.RSDThreshold)
			},
		},
		{
			name: "invalid port number",
			setupEnv: func() {
				os.Setenv("IMFCS_SERVER_PORT", "99999")
			},
			wantErr: true,
		},
		{
			name: "zero port number",
			setupEnv: func() {
				os.Setenv("IMFCS_SERVER_PORT", "0")
			},
			wantErr: true,
		},
		{
			name: "negative timeout",
			setupEnv: func() {
				os.Setenv("IMFCS_SERVER_READ_TIMEOUT", "-5s")
			},
			wantErr: true,
		},
		{
			name: "empty allowed origins",
			setupEnv: func() {
				os.Setenv("IMFCS_SECURITY_ALLOWED_ORIGINS", "")
			},
			wantErr: true,
		},
		{
			name: "zero workers",
			setupEnv: func() {
				os.Setenv("IMFCS_SCREENING_WORKERS", "0")
			},
			wantErr: true,
		},
		{
			name: "negative rsd threshold",
			setupEnv: func() {
				os.Setenv("IMFCS_SCREENING_RSD_THRESHOLD", "-0.1")
			},
			wantErr: true,
		},
		{
			name: "snr window too short",
			setupEnv: func() {
				os.Setenv("IMFCS_SCREENING_SNR_LAST_LAG", "1")
			},
			wantErr: true,
		},
		{
			name: "config file with environment override",
			setupEnv: func() {
				os.Setenv("IMFCS_SERVER_PORT", "7070")
				os.Setenv("IMFCS_LOGGING_LEVEL", "warn")
			},
			setupFile: func() string {
				tempDir := t.TempDir()
				configFile := filepath.Join(tempDir, "config.yaml")
				configContent := `
server:
  port: 6060
  read_timeout: 20s
logging:
  level: error
  format: json
screening:
  workers: 2
`
				require.NoError(t, os.WriteFile(configFile, []byte(configContent), 0644))
				// Change to temp directory so the config file is found
				originalDir, _ := os.Getwd()
				os.Chdir(tempDir)
				t.Cleanup(func() { os.Chdir(originalDir) })
				return configFile
			},
			validateCfg: func(t *testing.T, cfg *Config) {
				// Environment should override file
				assert.Equal(t, 7070, cfg.Server.Port)
				assert.Equal(t, "warn", cfg.Logging.Level)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, envVar := range configEnvVars {
				os.Unsetenv(envVar)
			}

			if tt.setupEnv != nil {
				tt.setupEnv()
			}
			if tt.setupFile != nil {
				_ = tt.setupFile()
			}

			cfg, err := Load()

			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)

			if tt.validateCfg != nil {
				tt.validateCfg(t, cfg)
			}
		})
	}
}

// TestLoadFromFile tests the loadFromFile function
func TestLoadFromFile(t *testing.T) {
	t.Run("valid yaml file", func(t *testing.T) {
		configFile := filepath.Join(t.TempDir(), "config.yaml")
		content := `
server:
  port: 6060
logging:
  level: error
screening:
  workers: 2
  rsd_threshold: 0.8
`
		require.NoError(t, os.WriteFile(configFile, []byte(content), 0644))

		cfg, err := loadFromFile(configFile)
		require.NoError(t, err)
		assert.Equal(t, 6060, cfg.Server.Port)
		assert.Equal(t, "error", cfg.Logging.Level)
		assert.Equal(t, 2, cfg.Screening.Workers)
		assert.Equal(t, 0.8, cfg.Screening.RSDThreshold)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		configFile := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(configFile, []byte("server: [not: valid"), 0644))

		_, err := loadFromFile(configFile)
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := loadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})
}

// TestMergeConfigs tests merge precedence between file and env configs
func TestMergeConfigs(t *testing.T) {
	fileConfig := Config{}
	fileConfig.Server.Port = 6060
	fileConfig.Server.ReadTimeout = 20 * time.Second
	fileConfig.Logging.Level = "error"
	fileConfig.Paths.DataDir = "file-data"
	fileConfig.Screening.Workers = 2
	fileConfig.Screening.SNRLastLag = 4
	fileConfig.Screening.RSDThreshold = 0.8

	t.Run("file fills empty env fields", func(t *testing.T) {
		merged := mergeConfigs(fileConfig, Config{})
		assert.Equal(t, 6060, merged.Server.Port)
		assert.Equal(t, 20*time.Second, merged.Server.ReadTimeout)
		assert.Equal(t, "error", merged.Logging.Level)
		assert.Equal(t, "file-data", merged.Paths.DataDir)
		assert.Equal(t, 2, merged.Screening.Workers)
		assert.Equal(t, 4, merged.Screening.SNRLastLag)
		assert.Equal(t, 0.8, merged.Screening.RSDThreshold)
	})

	t.Run("env overrides file", func(t *testing.T) {
		envConfig := Config{}
		envConfig.Server.Port = 7070
		envConfig.Logging.Level = "warn"
		envConfig.Screening.Workers = 8

		merged := mergeConfigs(fileConfig, envConfig)
		assert.Equal(t, 7070, merged.Server.Port)
		assert.Equal(t, "warn", merged.Logging.Level)
		assert.Equal(t, 8, merged.Screening.Workers)
		// Unset env fields still come from the file
		assert.Equal(t, 20*time.Second, merged.Server.ReadTimeout)
		assert.Equal(t, 0.8, merged.Screening.RSDThreshold)
	})
}

// TestValidate tests configuration validation rules
func TestValidate(t *testing.T) {
	valid := func() *Config { return Default() }

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "default is valid", mutate: func(c *Config) {}},
		{name: "port too large", mutate: func(c *Config) { c.Server.Port = 70000 }, wantErr: true},
		{name: "port zero", mutate: func(c *Config) { c.Server.Port = 0 }, wantErr: true},
		{name: "negative read timeout", mutate: func(c *Config) { c.Server.ReadTimeout = -time.Second }, wantErr: true},
		{name: "negative write timeout", mutate: func(c *Config) { c.Server.WriteTimeout = -time.Second }, wantErr: true},
		{name: "no allowed origins", mutate: func(c *Config) { c.Security.AllowedOrigins = nil }, wantErr: true},
		{name: "zero workers", mutate: func(c *Config) { c.Screening.Workers = 0 }, wantErr: true},
		{name: "negative rsd threshold", mutate: func(c *Config) { c.Screening.RSDThreshold = -1 }, wantErr: true},
		{name: "snr window below first lag", mutate: func(c *Config) { c.Screening.SNRLastLag = 1 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	t.Run("normalizes logging format and output", func(t *testing.T) {
		cfg := valid()
		cfg.Logging.Format = "text"
		cfg.Logging.Output = "syslog"
		cfg.Logging.FilePath = ""

		require.NoError(t, cfg.validate())
		assert.Equal(t, "json", cfg.Logging.Format)
		assert.Equal(t, "both", cfg.Logging.Output)
		assert.Equal(t, "logs/app.log", cfg.Logging.FilePath)
	})
}

// TestDefault tests the Default configuration constructor
func TestDefault(t *testing.T) {
	cfg := Default()
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 1*time.Hour, cfg.Server.OperationTimeout)
	assert.Equal(t, []string{"http://localhost:8080"}, cfg.Security.AllowedOrigins)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "rules.yaml", cfg.Paths.RulesFile)
	assert.Equal(t, "data/cache/imfcs.db", cfg.Paths.DatabaseFile)
	assert.Equal(t, 4, cfg.Screening.Workers)
	assert.Equal(t, 6, cfg.Screening.SNRLastLag)
	assert.Equal(t, 1.0, cfg.Screening.RSDThreshold)

	// Default configuration must pass its own validation
	assert.NoError(t, cfg.validate())
}

// TestConfigPathMethods tests the resolved path accessors
func TestConfigPathMethods(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.resolvePaths())

	assert.True(t, filepath.IsAbs(cfg.GetDataDir()))
	assert.True(t, filepath.IsAbs(cfg.GetWebDir()))
	assert.True(t, filepath.IsAbs(cfg.GetLogsDir()))
	assert.True(t, filepath.IsAbs(cfg.GetDatabaseFile()))
	assert.True(t, filepath.IsAbs(cfg.GetRulesFile()))

	// All resolved paths hang off the executable directory
	paths, err := GetPaths()
	require.NoError(t, err)
	assert.Equal(t, paths.DataDir, cfg.GetDataDir())
	assert.Equal(t, paths.DatabaseFile, cfg.GetDatabaseFile())
	assert.Equal(t, paths.RulesFile, cfg.GetRulesFile())
}

// TestGetConfigFilePath tests config file discovery
func TestGetConfigFilePath(t *testing.T) {
	t.Run("no config file", func(t *testing.T) {
		tempDir := t.TempDir()
		originalDir, _ := os.Getwd()
		os.Chdir(tempDir)
		t.Cleanup(func() { os.Chdir(originalDir) })

		assert.Equal(t, "", getConfigFilePath())
	})

	t.Run("config file in working directory", func(t *testing.T) {
		tempDir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(tempDir, "config.yaml"), []byte("server:\n  port: 8080\n"), 0644))
		originalDir, _ := os.Getwd()
		os.Chdir(tempDir)
		t.Cleanup(func() { os.Chdir(originalDir) })

		assert.Equal(t, "config.yaml", getConfigFilePath())
	})
}
