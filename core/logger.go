package core

// Logger is the application-wide logging port.
// expected args fmt: error, map[string]interface{} (extra fields), Person (who triggered the log)
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}

// Person identifies the user an entry is logged on behalf of.
type Person struct {
	ID       string
	Username string
	Email    string
}

type nopLogger struct{}

// NopLogger discards everything.
var NopLogger Logger = nopLogger{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}
