/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// EnvConfigFileDir points to the directory holding config.yaml.
	EnvConfigFileDir = "OSMO_CONFIG_FILE_DIR"
	// EnvLogFileDir points to the directory log files are written to.
	EnvLogFileDir = "OSMO_LOG_FILE_DIR"
	// EnvLoginDev bypasses authentication for local development.
	EnvLoginDev = "OSMO_LOGIN_DEV"

	defaultConfigFileName = "config.yaml"
)

func SetValue(key string, value interface{}) {
	viper.Set(key, value)
}

func LoadConfig(path string) error {
	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")
	return viper.ReadInConfig()
}

// LoadConfigFromEnv reads config.yaml under OSMO_CONFIG_FILE_DIR.
func LoadConfigFromEnv() error {
	dir := os.Getenv(EnvConfigFileDir)
	if dir == "" {
		dir = "."
	}
	return LoadConfig(filepath.Join(dir, defaultConfigFileName))
}

func getString(key, defaultValue string) string {
	if !viper.IsSet(key) {
		return defaultValue
	}
	return viper.GetString(key)
}

func getBool(key string, defaultValue bool) bool {
	if !viper.IsSet(key) {
		return defaultValue
	}
	return viper.GetBool(key)
}

func getInt(key string, defaultValue int) int {
	if !viper.IsSet(key) {
		return defaultValue
	}
	return viper.GetInt(key)
}

func getInt64(key string, defaultValue int64) int64 {
	if !viper.IsSet(key) {
		return defaultValue
	}
	return viper.GetInt64(key)
}

func getStrings(key string) []string {
	val := viper.GetString(key)
	return removeBlank(strings.Split(val, ","))
}

func removeBlank(slice []string) []string {
	var result []string
	for _, val := range slice {
		if trim := strings.TrimSpace(val); trim != "" {
			result = append(result, trim)
		}
	}
	return result
}

func IsCryptoEnable() bool {
	return getBool(cryptoEnable, true)
}

func GetCryptoSecretPath() string {
	return getString(cryptoSecretPath, "")
}

func GetCryptoMekId() string {
	return getString(cryptoMekId, "")
}

func IsDevLogin() bool {
	if os.Getenv(EnvLoginDev) != "" {
		return true
	}
	return getBool(devLogin, false)
}

func GetDBName() string {
	return getString(dbName, "")
}

func GetDBUser() string {
	return getString(dbUser, "")
}

func GetDBPassword() string {
	return getString(dbPassword, "")
}

func GetDBHost() string {
	return getString(dbHost, "")
}

func GetDBPort() int {
	return getInt(dbPort, 5432)
}

func GetDBSslMode() string {
	return getString(dbSslMode, "disable")
}

func GetDBMaxOpenConns() int {
	return getInt(dbMaxOpenConns, 50)
}

func GetDBMaxIdleConns() int {
	return getInt(dbMaxIdleConns, 10)
}

func GetDBMaxLifetimeSecond() int {
	return getInt(dbMaxLifetimeSecond, 3600)
}

func GetDBMaxIdleTimeSecond() int {
	return getInt(dbMaxIdleTimeSecond, 600)
}

func GetDBConnectTimeoutSecond() int {
	return getInt(dbConnectTimeoutSecond, 10)
}

func GetDBRequestTimeoutSecond() int {
	return getInt(dbRequestTimeoutSecond, 30)
}

func GetRedisAddress() string {
	return getString(redisAddress, "localhost:6379")
}

func GetRedisPassword() string {
	return getString(redisPassword, "")
}

func GetRedisDatabase() int {
	return getInt(redisDatabase, 0)
}

func GetS3Endpoint() string {
	return getString(s3Endpoint, "")
}

func GetS3Region() string {
	return getString(s3Region, "us-east-1")
}

func GetS3Bucket() string {
	return getString(s3Bucket, "")
}

func GetS3AccessKey() string {
	return getString(s3AccessKey, "")
}

func GetS3SecretKey() string {
	return getString(s3SecretKey, "")
}

func GetRendererWorkers() int {
	return getInt(rendererWorkers, 4)
}

func GetRendererMaxTime() time.Duration {
	return time.Duration(getInt(rendererMaxTime, 10)) * time.Second
}

func GetRendererMemoryLimit() int64 {
	return getInt64(rendererMemoryLimit, 256<<20)
}

func GetRendererWorkerPath() string {
	return getString(rendererWorkerPath, "/usr/local/bin/osmo-render-worker")
}

func GetMaxNumTasks() int {
	return getInt(workflowMaxNumTasks, 1000)
}

func GetUserMaxNumWorkflows() int {
	return getInt(workflowUserMaxWorkflows, 100)
}

func GetUserMaxNumTasks() int {
	return getInt(workflowUserMaxTasks, 2000)
}

func GetDefaultExecTimeout() string {
	return getString(workflowDefaultExecTimeout, "1d")
}

func GetMaxExecTimeout() string {
	return getString(workflowMaxExecTimeout, "7d")
}

func GetDefaultQueueTimeout() string {
	return getString(workflowDefaultQueueTimeout, "1d")
}

func GetMaxQueueTimeout() string {
	return getString(workflowMaxQueueTimeout, "7d")
}

func IsRetryAllowed() bool {
	return getBool(workflowRetryAllowed, true)
}

// GetDisabledRegistryHosts lists registry hosts exempt from image validation.
func GetDisabledRegistryHosts() []string {
	return getStrings(registryDisableValidation)
}

// GetBackendKubeconfigDir points to per-backend kubeconfig files named
// <backend>.yaml; empty means in-cluster credentials.
func GetBackendKubeconfigDir() string {
	return getString(backendKubeconfigDir, "")
}

func GetMetricsAddress() string {
	return getString(serverMetricsAddress, ":9090")
}

func IsNotificationEnable() bool {
	return getBool(notificationEnable, false)
}

func GetNotificationConfigFile() string {
	return getString(notificationConfigFile, "")
}

func IsTraceEnable() bool {
	return getBool(traceEnable, false)
}

func GetTraceEndpoint() string {
	return getString(traceEndpoint, "localhost:4317")
}
