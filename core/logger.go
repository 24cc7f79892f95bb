package core

type (
	// Logger is implemented by every logging service.
	// expected args: error, map[string]interface{}, Identity
	Logger interface {
		Debug(msg string, args ...interface{})
		Info(msg string, args ...interface{})
		Warn(msg string, args ...interface{})
		Error(msg string, args ...interface{})
		Fatal(msg string, args ...interface{})
	}

	// Identity is anything a log entry can be attributed to (the signed-in principal).
	Identity interface {
		LogIdentity() (id, username, email string)
	}
)

// NopLogger discards everything. Fatal does not exit.
var NopLogger Logger = nopLogger{}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}
