// Package validation runs every structural and semantic check for a request
// in one pass, before the request reaches its handler.
//
// A request opts in by carrying `validate` struct tags, by implementing
// RuleSet, or both. Configured CEL policies are applied by request name.
package validation

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"postbox/internal/config"
	"postbox/internal/logger"
	"postbox/internal/mediator"
	"postbox/pkg/cel"
	pkgerrors "postbox/pkg/errors"
)

type Result struct {
	IsValid bool
	Errors  []string
}

// Rule is a semantic check declared by the request itself.
type Rule struct {
	Message string
	Valid   bool
}

// RuleSet is implemented by requests with checks struct tags cannot express.
type RuleSet interface {
	Rules() []Rule
}

type policy struct {
	expression string
	message    string
}

type Validator struct {
	validate *validator.Validate
	eval     *cel.Evaluator
	policies map[string][]policy
	log      logger.Logger
}

type Option func(*Validator)

func WithLogger(log logger.Logger) Option {
	return func(v *Validator) {
		v.log = log
	}
}

// New builds a Validator. Policies are compiled up front so a bad
// expression fails startup rather than a request.
func New(policies []config.PolicyConfig, opts ...Option) (*Validator, error) {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(jsonFieldName)

	eval, err := cel.NewEvaluator()
	if err != nil {
		return nil, err
	}

	v := &Validator{
		validate: validate,
		eval:     eval,
		policies: make(map[string][]policy),
		log:      logger.NopLogger(),
	}
	for _, opt := range opts {
		opt(v)
	}

	for i, p := range policies {
		if _, err := eval.Compile(p.Expression); err != nil {
			return nil, fmt.Errorf("validation.policies[%d]: %w", i, err)
		}
		v.policies[p.Request] = append(v.policies[p.Request], policy{expression: p.Expression, message: p.Message})
	}

	return v, nil
}

// Validate collects struct tag violations in field order, then the request's
// own rules, then configured policies.
func (v *Validator) Validate(ctx context.Context, req mediator.Request) Result {
	var messages []string

	if err := v.validate.StructCtx(ctx, req); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				messages = append(messages, describe(fe, reflect.TypeOf(req)))
			}
		} else {
			messages = append(messages, err.Error())
		}
	}

	if rs, ok := req.(RuleSet); ok {
		for _, rule := range rs.Rules() {
			if !rule.Valid {
				messages = append(messages, rule.Message)
			}
		}
	}

	messages = append(messages, v.applyPolicies(ctx, req)...)

	return Result{IsValid: len(messages) == 0, Errors: messages}
}

func (v *Validator) applyPolicies(ctx context.Context, req mediator.Request) []string {
	policies := v.policies[req.RequestName()]
	if len(policies) == 0 {
		return nil
	}

	fields, err := cel.Fields(req)
	if err != nil {
		v.log.ErrorwCtx(ctx, "failed to project request for policies", "request", req.RequestName(), "error", err)
		return []string{"request could not be validated"}
	}

	var messages []string
	for _, p := range policies {
		ok, err := v.eval.Evaluate(ctx, p.expression, req.RequestName(), fields)
		if err != nil {
			v.log.WarnwCtx(ctx, "validation policy failed to evaluate",
				"request", req.RequestName(),
				"expression", p.expression,
				"error", err,
			)
		}
		if err != nil || !ok {
			messages = append(messages, p.message)
		}
	}
	return messages
}

// Behavior short-circuits the pipeline with a validation error carrying
// every violation. The handler never runs for an invalid request.
func Behavior(v *Validator) mediator.Behavior {
	return func(ctx context.Context, req mediator.Request, next mediator.Next) (any, error) {
		result := v.Validate(ctx, req)
		if !result.IsValid {
			return nil, pkgerrors.Validation(result.Errors)
		}
		return next(ctx)
	}
}

func jsonFieldName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	switch name {
	case "-":
		return ""
	case "":
		return fld.Name
	}
	return name
}

// siblingName returns the json name of the field that a cross-field tag
// such as nefield=UserID refers to.
func siblingName(root reflect.Type, fe validator.FieldError) string {
	parent := root
	path := strings.Split(fe.StructNamespace(), ".")
	for i := 1; i < len(path)-1 && parent != nil; i++ {
		for parent.Kind() == reflect.Ptr {
			parent = parent.Elem()
		}
		if parent.Kind() != reflect.Struct {
			return fe.Param()
		}
		name := path[i]
		if idx := strings.IndexByte(name, '['); idx >= 0 {
			name = name[:idx]
		}
		fld, ok := parent.FieldByName(name)
		if !ok {
			return fe.Param()
		}
		parent = fld.Type
		for parent.Kind() == reflect.Ptr || parent.Kind() == reflect.Slice || parent.Kind() == reflect.Array || parent.Kind() == reflect.Map {
			parent = parent.Elem()
		}
	}
	for parent != nil && parent.Kind() == reflect.Ptr {
		parent = parent.Elem()
	}
	if parent == nil || parent.Kind() != reflect.Struct {
		return fe.Param()
	}
	fld, ok := parent.FieldByName(fe.Param())
	if !ok {
		return fe.Param()
	}
	if name := jsonFieldName(fld); name != "" {
		return name
	}
	return fe.Param()
}

func describe(fe validator.FieldError, root reflect.Type) string {
	field := fe.Field()

	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "gte", "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "lte", "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "uuid", "uuid4":
		return field + " must be a valid UUID"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "nefield":
		return fmt.Sprintf("%s must differ from %s", field, siblingName(root, fe))
	case "eqfield":
		return fmt.Sprintf("%s must equal %s", field, siblingName(root, fe))
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
