package captcha

import (
	"context"
	"encoding/json"
	"fmt"
)

var responseFields = map[Kind][]string{
	KindRecaptchaV2: {"g-recaptcha-response"},
	KindHCaptcha:    {"h-captcha-response", "g-recaptcha-response"},
	KindTurnstile:   {"cf-turnstile-response"},
}

// Inject writes token into the widget's response fields and fires its callback.
func Inject(ctx context.Context, page Page, d Detection, token string) error {
	fields, ok := responseFields[d.Kind]
	if !ok {
		return fmt.Errorf("inject %s: %w", d.Kind, ErrUnsupportedKind)
	}
	script, err := injectionScript(fields, d.Callback, token)
	if err != nil {
		return err
	}
	var applied bool
	if err := page.Evaluate(ctx, script, &applied); err != nil {
		return fmt.Errorf("inject %s token: %w", d.Kind, err)
	}
	if !applied {
		return fmt.Errorf("inject %s token: no response field on page", d.Kind)
	}
	return nil
}

func injectionScript(fields []string, callback, token string) (string, error) {
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("encode fields: %w", err)
	}
	tokenJSON, err := json.Marshal(token)
	if err != nil {
		return "", fmt.Errorf("encode token: %w", err)
	}
	callbackJSON, err := json.Marshal(callback)
	if err != nil {
		return "", fmt.Errorf("encode callback: %w", err)
	}
	return fmt.Sprintf(`(function(names, token, cb) {
  var applied = false;
  names.forEach(function(name) {
    document.querySelectorAll('[name="' + name + '"], #' + name).forEach(function(el) {
      el.value = token;
      el.innerHTML = token;
      applied = true;
    });
  });
  if (cb && typeof window[cb] === 'function') {
    window[cb](token);
    applied = true;
  }
  return applied;
})(%s, %s, %s)`, fieldsJSON, tokenJSON, callbackJSON), nil
}
