package telemetry

import (
	"log"
	"sync/atomic"

	"github.com/rollbar/rollbar-go"
)

var enabled atomic.Bool

// Init configures rollbar. With an empty token capture only logs.
func Init(token, env, host string) {
	rollbar.SetToken(token)
	rollbar.SetEnvironment(env)
	rollbar.SetServerHost(host)
	rollbar.SetEnabled(token != "")
	enabled.Store(token != "")
}

// Capture logs err with its extras and reports it to rollbar when enabled.
func Capture(tag string, err error, extras map[string]interface{}) {
	if err == nil {
		return
	}
	log.Printf("[%s][error] err=%v extras=%v", tag, err, extras)
	if !enabled.Load() {
		return
	}
	if extras == nil {
		extras = map[string]interface{}{}
	}
	extras["tag"] = tag
	rollbar.ErrorWithExtras(rollbar.ERR, err, extras)
}

// Critical is Capture for states that need manual repair, such as a provider change
// that went through while the matching database write did not.
func Critical(tag string, err error, extras map[string]interface{}) {
	log.Printf("[%s][critical] err=%v extras=%v", tag, err, extras)
	if !enabled.Load() {
		return
	}
	if extras == nil {
		extras = map[string]interface{}{}
	}
	extras["tag"] = tag
	rollbar.ErrorWithExtras(rollbar.CRIT, err, extras)
}

// Close flushes pending rollbar items.
func Close() {
	if enabled.Load() {
		rollbar.Close()
	}
}
