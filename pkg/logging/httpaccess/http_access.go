// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package httpaccess logs one line per served API request.
package httpaccess

import (
	"net"
	"net/http"
	"time"

	"github.com/catalystnet/catalyst/pkg/logging"
	"github.com/sirupsen/logrus"
)

// optionalHeaders are request headers logged when present, under the given
// field name.
var optionalHeaders = []struct{ header, field string }{
	{"Referer", "referrer"},
	{"User-Agent", "user-agent"},
	{"X-Forwarded-For", "x-forwarded-for"},
	{"X-Real-Ip", "x-real-ip"},
	{"Range", "range"},
}

// NewHandler returns a middleware that logs every request at level once the
// response is written. Routes wrapped by SetLevelHandler log at their own
// level.
func NewHandler(logger logging.Logger, level logrus.Level, message string) func(h http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &recorder{ResponseWriter: w, level: level}

			h.ServeHTTP(rec, r)

			if rec.level == 0 {
				return
			}
			logger.WithFields(rec.fields(r, time.Since(start))).Log(rec.level, message)
		})
	}
}

// SetLevelHandler changes the access log level of the wrapped route. Level 0
// turns access logging off.
func SetLevelHandler(level logrus.Level) func(h http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rec, ok := w.(*recorder); ok {
				rec.level = level
			}
			h.ServeHTTP(w, r)
		})
	}
}

// recorder captures the status and body size of a response.
type recorder struct {
	http.ResponseWriter
	status int
	size   int
	level  logrus.Level
}

func (rec *recorder) fields(r *http.Request, d time.Duration) logrus.Fields {
	status := rec.status
	if status == 0 {
		status = http.StatusOK
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	fields := logrus.Fields{
		"ip":       ip,
		"method":   r.Method,
		"uri":      r.RequestURI,
		"proto":    r.Proto,
		"status":   status,
		"size":     rec.size,
		"duration": d.Seconds(),
	}
	for _, o := range optionalHeaders {
		if v := r.Header.Get(o.header); v != "" {
			fields[o.field] = v
		}
	}
	if v := rec.Header().Get("Content-Encoding"); v != "" {
		fields["encoding"] = v
	}
	return fields
}

func (rec *recorder) Write(b []byte) (int, error) {
	n, err := rec.ResponseWriter.Write(b)
	rec.size += n
	return n, err
}

func (rec *recorder) WriteHeader(status int) {
	rec.ResponseWriter.WriteHeader(status)
	if rec.status == 0 {
		rec.status = status
	}
}

func (rec *recorder) Flush() {
	if f, ok := rec.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
