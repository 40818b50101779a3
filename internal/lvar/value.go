package lvar

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Expr wraps a bare variable reference in parentheses, the form the host
// evaluates for reads. Already wrapped expressions are returned unchanged.
func Expr(name string) string {
	name = strings.TrimSpace(name)
	if strings.HasPrefix(name, "(") {
		return name
	}
	return "(" + name + ")"
}

// ParseValue converts a typed literal to the number written into calculator
// code. Accepted forms are bool:ON, signal:DOWN, int:3 and float:0.5. Values
// without a type prefix pass through untouched.
func ParseValue(raw string) (string, error) {
	vtype, vval, typed := strings.Cut(raw, ":")
	if !typed {
		return strings.TrimSpace(raw), nil
	}
	vtype = strings.ToLower(strings.TrimSpace(vtype))
	vval = strings.ToUpper(strings.TrimSpace(vval))

	switch vtype {
	case "bool":
		switch vval {
		case "UP", "ON", "TRUE", "1":
			return "1", nil
		case "DOWN", "OFF", "FALSE", "0":
			return "-1", nil
		}
	case "signal":
		switch vval {
		case "UP", "1":
			return "1", nil
		case "DOWN", "0":
			return "-1", nil
		}
	case "int":
		i, err := strconv.Atoi(vval)
		if err != nil {
			return "", fmt.Errorf("%w: int %q", ErrInvalidValue, vval)
		}
		return strconv.Itoa(i), nil
	case "float":
		f, err := strconv.ParseFloat(vval, 64)
		if err != nil {
			return "", fmt.Errorf("%w: float %q", ErrInvalidValue, vval)
		}
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, vtype)
	}
	return "", fmt.Errorf("%w: %s %q", ErrInvalidValue, vtype, vval)
}

// WriteCode builds the calculator code that assigns value to target. An
// empty value triggers target as an event.
func WriteCode(target, value string) (string, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", ErrEmptyName
	}
	if value == "" {
		return "(" + target + ")", nil
	}
	v, err := ParseValue(value)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s (>%s)", v, target), nil
}

// Write assigns value to target on the host. Only value conversion errors are
// returned; the command itself is best effort.
func (b *Broker) Write(ctx context.Context, target, value string) error {
	code, err := WriteCode(target, value)
	if err != nil {
		return err
	}
	b.Execute(ctx, code)
	return nil
}

// Execute sends raw calculator code to the host.
func (b *Broker) Execute(ctx context.Context, code string) {
	if err := b.commands.Send(ctx, SetCommand(code)); err != nil {
		b.logger.Debug("set command not sent", zap.String("code", code), zap.Error(err))
	}
}
