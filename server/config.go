/*
 * MIT License
 *
 * Copyright (c) 2021 Eduardo Ramos
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 */

package server

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/testillano/http2comm/errcode"
	"github.com/testillano/http2comm/httls"
)

// Config is the server's construction-time configuration. Tags follow the
// teacher's multi-format convention (mapstructure for generic config
// loaders, json/yaml for direct marshaling) with validator rules enforced
// by Validate.
type Config struct {
	Name string `mapstructure:"name" json:"name" yaml:"name" toml:"name" validate:"required"`

	BindAddress string `mapstructure:"bind_address" json:"bind_address" yaml:"bind_address" toml:"bind_address" validate:"required"`
	ListenPort  string `mapstructure:"listen_port" json:"listen_port" yaml:"listen_port" toml:"listen_port" validate:"required"`

	// WorkerThreads >= 1 creates a dispatcher pool; <= 0 runs requests
	// inline on the protocol goroutine.
	WorkerThreads    int `mapstructure:"worker_threads" json:"worker_threads" yaml:"worker_threads" toml:"worker_threads"`
	MaxWorkerThreads int `mapstructure:"max_worker_threads" json:"max_worker_threads" yaml:"max_worker_threads" toml:"max_worker_threads"`
	// QueueMaxSize < 0 disables congestion rejection; nil defaults to -1
	// (disabled), matching spec construction default
	// "(name, worker_threads, max_worker_threads=0, ..., queue_max_size=-1)".
	// A pointer, not a plain int, because the zero value 0 is itself a
	// meaningful, distinct setting: "congested as soon as anything queues".
	QueueMaxSize *int `mapstructure:"queue_max_size" json:"queue_max_size" yaml:"queue_max_size" toml:"queue_max_size"`

	APIName    string `mapstructure:"api_name" json:"api_name" yaml:"api_name" toml:"api_name"`
	APIVersion string `mapstructure:"api_version" json:"api_version" yaml:"api_version" toml:"api_version"`

	Asynchronous  bool          `mapstructure:"asynchronous" json:"asynchronous" yaml:"asynchronous" toml:"asynchronous"`
	ReadKeepAlive time.Duration `mapstructure:"read_keep_alive" json:"read_keep_alive" yaml:"read_keep_alive" toml:"read_keep_alive"`

	TLS httls.Config `mapstructure:"tls" json:"tls" yaml:"tls" toml:"tls"`

	MaxHandlers                  int   `mapstructure:"max_handlers" json:"max_handlers" yaml:"max_handlers" toml:"max_handlers"`
	MaxConcurrentStreams         uint32 `mapstructure:"max_concurrent_streams" json:"max_concurrent_streams" yaml:"max_concurrent_streams" toml:"max_concurrent_streams"`
	PermitProhibitedCipherSuites bool  `mapstructure:"permit_prohibited_cipher_suites" json:"permit_prohibited_cipher_suites" yaml:"permit_prohibited_cipher_suites" toml:"permit_prohibited_cipher_suites"`
	MaxUploadBufferPerConnection int32 `mapstructure:"max_upload_buffer_per_connection" json:"max_upload_buffer_per_connection" yaml:"max_upload_buffer_per_connection" toml:"max_upload_buffer_per_connection"`
	MaxUploadBufferPerStream     int32 `mapstructure:"max_upload_buffer_per_stream" json:"max_upload_buffer_per_stream" yaml:"max_upload_buffer_per_stream" toml:"max_upload_buffer_per_stream"`

	DelayBuckets []float64 `mapstructure:"delay_buckets" json:"delay_buckets" yaml:"delay_buckets" toml:"delay_buckets"`
	SizeBuckets  []float64 `mapstructure:"size_buckets" json:"size_buckets" yaml:"size_buckets" toml:"size_buckets"`
}

// DefaultReadKeepAlive is spec.md §6's default read keep-alive duration.
const DefaultReadKeepAlive = 60 * time.Second

// Validate runs struct-tag validation and fills in documented defaults.
func (c *Config) Validate() error {
	if c.ReadKeepAlive <= 0 {
		c.ReadKeepAlive = DefaultReadKeepAlive
	}
	if c.QueueMaxSize == nil {
		disabled := -1
		c.QueueMaxSize = &disabled
	}
	if err := validator.New().Struct(c); err != nil {
		return errcode.Wrap(errcode.ConfigValidation, err)
	}
	return nil
}
