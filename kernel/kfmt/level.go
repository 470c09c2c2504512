package kfmt

// Severity identifies the importance of a logged message, matching the
// vectors accepted by the syscall gate's Klog* family.
type Severity uint8

const (
	SeverityInfo Severity = iota
	SeverityError
	SeverityDebug
	SeverityTrace
)

var severityTag = map[Severity]string{
	SeverityInfo:  "INFO",
	SeverityError: "ERROR",
	SeverityDebug: "DEBUG",
	SeverityTrace: "TRACE",
}

// Log prints msg at the given severity, tagged with component. It is the
// common path used both by internal subsystem logging and by the syscall
// gate's Klog* vectors.
func Log(component string, sev Severity, msg string) {
	Printf("[%s] %s: %s\n", severityTag[sev], component, msg)
}

// Info logs an informational message tagged with component.
func Info(component, msg string) { Log(component, SeverityInfo, msg) }

// Error logs an error message tagged with component.
func Error(component, msg string) { Log(component, SeverityError, msg) }

// Debug logs a debug message tagged with component.
func Debug(component, msg string) { Log(component, SeverityDebug, msg) }

// Trace logs a trace message tagged with component.
func Trace(component, msg string) { Log(component, SeverityTrace, msg) }
