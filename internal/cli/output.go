package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/hupe1980/vmstore"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Operation failed against a reachable store
	ExitCommandError = 2 // Command error (bad config, unreachable store, bad flags)
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// ViewModelOutput is the printed form of a view model.
type ViewModelOutput struct {
	ID         string         `json:"id"`
	Version    string         `json:"version,omitempty"`
	Action     string         `json:"action,omitempty"`
	Attributes map[string]any `json:"attributes"`
}

func viewModelOutput(vm *vmstore.ViewModel) ViewModelOutput {
	attrs := vm.Attributes()
	delete(attrs, vmstore.FieldID)
	return ViewModelOutput{
		ID:         vm.ID(),
		Version:    string(vm.Version()),
		Action:     string(vm.Action()),
		Attributes: attrs,
	}
}

// JSON writes v as indented JSON.
func (f *OutputFormatter) JSON(v any) error {
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ViewModels prints vms in the configured format.
func (f *OutputFormatter) ViewModels(vms []*vmstore.ViewModel) error {
	out := make([]ViewModelOutput, len(vms))
	for i, vm := range vms {
		out[i] = viewModelOutput(vm)
	}
	if f.Format == "json" {
		return f.JSON(out)
	}
	if len(out) == 0 {
		_, err := fmt.Fprintln(f.Writer, "No view models found.")
		return err
	}
	for i, vm := range out {
		if i > 0 {
			fmt.Fprintln(f.Writer)
		}
		if err := f.text(vm); err != nil {
			return err
		}
	}
	return nil
}

func (f *OutputFormatter) text(vm ViewModelOutput) error {
	var b strings.Builder
	fmt.Fprintf(&b, "id:      %s\n", vm.ID)
	if vm.Version != "" {
		fmt.Fprintf(&b, "version: %s\n", vm.Version)
	}
	action := vm.Action
	if action == "" {
		action = "none"
	}
	fmt.Fprintf(&b, "action:  %s\n", action)

	keys := make([]string, 0, len(vm.Attributes))
	for k := range vm.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "  %s = %v\n", k, vm.Attributes[k])
	}
	_, err := io.WriteString(f.Writer, b.String())
	return err
}

// Message prints a status line, or {"status": msg, ...} in JSON mode.
func (f *OutputFormatter) Message(msg string, data map[string]any) error {
	if f.Format == "json" {
		out := map[string]any{"status": msg}
		for k, v := range data {
			out[k] = v
		}
		return f.JSON(out)
	}
	_, err := fmt.Fprintln(f.Writer, msg)
	return err
}
