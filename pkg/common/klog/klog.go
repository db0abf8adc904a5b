/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package klog

import (
	"flag"
	"os"
	"path/filepath"
	"strconv"

	"k8s.io/klog/v2"

	commonconfig "github.com/NVIDIA/OSMO-sub000/pkg/common/config"
)

// Init initializes klog to write to a file under OSMO_LOG_FILE_DIR while
// mirroring to stderr. logFileSize is in MB; zero keeps the klog default.
func Init(component string, logFileSize int) error {
	klog.InitFlags(nil)
	logDir := os.Getenv(commonconfig.EnvLogFileDir)
	if logDir != "" {
		flag.Set("log_file", filepath.Join(logDir, component+".log"))
		flag.Set("alsologtostderr", "true")
		flag.Set("logtostderr", "false")
	}
	flag.Set("skip_log_headers", "true")
	if logFileSize != 0 {
		flag.Set("log_file_max_size", strconv.Itoa(logFileSize))
	}
	flag.Parse()
	return nil
}
