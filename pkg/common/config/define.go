/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package config

const (
	// global
	globalPrefix     = "global."
	cryptoEnable     = globalPrefix + "enable_crypto"
	cryptoSecretPath = globalPrefix + "crypto_secret_path"
	cryptoMekId      = globalPrefix + "crypto_mek_id"
	devLogin         = globalPrefix + "login_dev"

	// database
	dbPrefix               = "database."
	dbName                 = dbPrefix + "name"
	dbUser                 = dbPrefix + "user"
	dbPassword             = dbPrefix + "password"
	dbHost                 = dbPrefix + "host"
	dbPort                 = dbPrefix + "port"
	dbSslMode              = dbPrefix + "ssl_mode"
	dbMaxOpenConns         = dbPrefix + "max_open_conns"
	dbMaxIdleConns         = dbPrefix + "max_idle_conns"
	dbMaxLifetimeSecond    = dbPrefix + "max_lifetime_second"
	dbMaxIdleTimeSecond    = dbPrefix + "max_idle_time_second"
	dbConnectTimeoutSecond = dbPrefix + "connect_timeout_second"
	dbRequestTimeoutSecond = dbPrefix + "request_timeout_second"

	// redis
	redisPrefix   = "redis."
	redisAddress  = redisPrefix + "address"
	redisPassword = redisPrefix + "password"
	redisDatabase = redisPrefix + "database"

	// s3 object storage
	s3Prefix    = "s3."
	s3Endpoint  = s3Prefix + "endpoint"
	s3Region    = s3Prefix + "region"
	s3Bucket    = s3Prefix + "bucket"
	s3AccessKey = s3Prefix + "access_key"
	s3SecretKey = s3Prefix + "secret_key"

	// template renderer sandbox
	rendererPrefix      = "renderer."
	rendererWorkers     = rendererPrefix + "workers"
	rendererMaxTime     = rendererPrefix + "max_time_second"
	rendererMemoryLimit = rendererPrefix + "memory_limit_bytes"
	rendererWorkerPath  = rendererPrefix + "worker_path"

	// workflow service defaults
	workflowPrefix              = "workflow."
	workflowMaxNumTasks         = workflowPrefix + "max_num_tasks"
	workflowUserMaxWorkflows    = workflowPrefix + "user_max_num_workflows"
	workflowUserMaxTasks        = workflowPrefix + "user_max_num_tasks"
	workflowDefaultExecTimeout  = workflowPrefix + "default_exec_timeout"
	workflowMaxExecTimeout      = workflowPrefix + "max_exec_timeout"
	workflowDefaultQueueTimeout = workflowPrefix + "default_queue_timeout"
	workflowMaxQueueTimeout     = workflowPrefix + "max_queue_timeout"
	workflowRetryAllowed        = workflowPrefix + "retry_allowed"

	// registry validation
	registryPrefix            = "registry."
	registryDisableValidation = registryPrefix + "disable_validation"

	// backend access
	backendPrefix        = "backend."
	backendKubeconfigDir = backendPrefix + "kubeconfig_dir"

	// server
	serverPrefix         = "server."
	serverMetricsAddress = serverPrefix + "metrics_address"

	// notification
	notificationPrefix     = "notification."
	notificationEnable     = notificationPrefix + "enable"
	notificationConfigFile = notificationPrefix + "config_file"

	// trace
	tracePrefix   = "trace."
	traceEnable   = tracePrefix + "enable"
	traceEndpoint = tracePrefix + "endpoint"
)
