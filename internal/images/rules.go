package images

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

var imageMimeTypes = []string{
	"image/jpeg",
	"image/png",
	"image/gif",
	"image/bmp",
	"image/svg+xml",
	"image/webp",
}

type ruleCheck struct {
	rule  string
	value func(file *UploadedFile) interface{}
	tag   string
}

// Rules evaluates a pipe separated rule string such as
// "required|mimes:png,gif,jpeg|max:2048" against an upload. Sizes are in kilobytes.
type Rules struct {
	raw      string
	checks   []ruleCheck
	validate *validator.Validate
}

func ParseRules(raw string) (*Rules, error) {
	rules := &Rules{
		raw:      raw,
		validate: validator.New(),
	}

	for _, part := range strings.Split(raw, "|") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		name, param, _ := strings.Cut(part, ":")
		check, err := buildRuleCheck(part, strings.ToLower(name), param)
		if err != nil {
			return nil, err
		}
		if check != nil {
			rules.checks = append(rules.checks, *check)
		}
	}

	return rules, nil
}

func buildRuleCheck(rule, name, param string) (*ruleCheck, error) {
	switch name {
	case "required":
		return &ruleCheck{rule: rule, value: contentLength, tag: "gt=0"}, nil
	case "file":
		return &ruleCheck{rule: rule, value: originalName, tag: "required"}, nil
	case "image":
		return &ruleCheck{rule: rule, value: detectedMimeType, tag: oneOf(imageMimeTypes)}, nil
	case "mimes":
		extensions, err := ruleList(rule, param)
		if err != nil {
			return nil, err
		}
		return &ruleCheck{rule: rule, value: guessedExtension, tag: oneOf(withExtensionAliases(extensions))}, nil
	case "mimetypes":
		mimeTypes, err := ruleList(rule, param)
		if err != nil {
			return nil, err
		}
		return &ruleCheck{rule: rule, value: detectedMimeType, tag: mimeTypeTag(mimeTypes)}, nil
	case "max", "min":
		bytes, err := kilobytes(rule, param)
		if err != nil {
			return nil, err
		}
		op := "lte"
		if name == "min" {
			op = "gte"
		}
		return &ruleCheck{rule: rule, value: contentLength, tag: fmt.Sprintf("%s=%d", op, bytes)}, nil
	case "nullable", "bail", "sometimes":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported image rule %q", rule)
	}
}

// Check returns the first rule the file violates.
func (r *Rules) Check(file *UploadedFile) error {
	if file == nil {
		return fmt.Errorf("no file given")
	}

	for _, check := range r.checks {
		if err := r.validate.Var(check.value(file), check.tag); err != nil {
			return fmt.Errorf("rule %q failed: %w", check.rule, err)
		}
	}
	return nil
}

func (r *Rules) String() string {
	return r.raw
}

func contentLength(file *UploadedFile) interface{} {
	return file.Size()
}

func originalName(file *UploadedFile) interface{} {
	return file.OriginalName
}

func detectedMimeType(file *UploadedFile) interface{} {
	return file.MimeType()
}

func guessedExtension(file *UploadedFile) interface{} {
	return file.GuessedExtension()
}

func ruleList(rule, param string) ([]string, error) {
	var values []string
	for _, v := range strings.Split(param, ",") {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if strings.ContainsAny(v, " |") {
			return nil, fmt.Errorf("invalid value %q in image rule %q", v, rule)
		}
		values = append(values, v)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("image rule %q needs at least one value", rule)
	}
	return values, nil
}

func kilobytes(rule, param string) (int64, error) {
	kb, err := strconv.ParseFloat(strings.TrimSpace(param), 64)
	if err != nil || kb < 0 {
		return 0, fmt.Errorf("image rule %q needs a non-negative size in kilobytes", rule)
	}
	return int64(kb * 1024), nil
}

// jpg and jpeg name the same format; listing either accepts both.
func withExtensionAliases(extensions []string) []string {
	result := append([]string(nil), extensions...)
	for _, ext := range extensions {
		switch ext {
		case "jpg":
			result = append(result, "jpeg")
		case "jpeg":
			result = append(result, "jpg")
		}
	}
	return result
}

func mimeTypeTag(mimeTypes []string) string {
	var exact []string
	var alternatives []string
	for _, mt := range mimeTypes {
		if prefix, ok := strings.CutSuffix(mt, "/*"); ok {
			alternatives = append(alternatives, "startswith="+prefix+"/")
			continue
		}
		exact = append(exact, mt)
	}
	if len(exact) > 0 {
		alternatives = append([]string{oneOf(exact)}, alternatives...)
	}
	return strings.Join(alternatives, "|")
}

func oneOf(values []string) string {
	return "oneof=" + strings.Join(values, " ")
}
