package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/entrhq/postforge/pkg/browser"
)

// Target names accepted under the selectors key.
const (
	TargetEmail          = "email"
	TargetPassword       = "password"
	TargetLoginSubmit    = "login_submit"
	TargetLoggedIn       = "logged_in"
	TargetCaptcha        = "captcha"
	TargetComposeTrigger = "compose_trigger"
	TargetComposer       = "composer"
	TargetAddMedia       = "add_media"
	TargetFileInput      = "file_input"
	TargetUploadPreview  = "upload_preview"
	TargetMediaNext      = "media_next"
	TargetPostSubmit     = "post_submit"
	TargetSuccessToast   = "success_toast"
)

var knownTargets = map[string]bool{
	TargetEmail:          true,
	TargetPassword:       true,
	TargetLoginSubmit:    true,
	TargetLoggedIn:       true,
	TargetCaptcha:        true,
	TargetComposeTrigger: true,
	TargetComposer:       true,
	TargetAddMedia:       true,
	TargetFileInput:      true,
	TargetUploadPreview:  true,
	TargetMediaNext:      true,
	TargetPostSubmit:     true,
	TargetSuccessToast:   true,
}

func validateSelectors(selectors map[string][]string) error {
	for name, candidates := range selectors {
		if !knownTargets[name] {
			names := make([]string, 0, len(knownTargets))
			for k := range knownTargets {
				names = append(names, k)
			}
			sort.Strings(names)
			return fmt.Errorf("unknown selector target %q (known: %s)", name, strings.Join(names, ", "))
		}
		if len(candidates) == 0 {
			return fmt.Errorf("selectors.%s must list at least one candidate", name)
		}
		for _, c := range candidates {
			if strings.TrimSpace(c) == "" {
				return fmt.Errorf("selectors.%s contains an empty candidate", name)
			}
		}
	}
	return nil
}

// Target returns def with its candidates replaced by the configured
// override for name, if any. The target's name and state are kept.
func (c *Config) Target(name string, def browser.Target) browser.Target {
	override, ok := c.Selectors[name]
	if !ok || len(override) == 0 {
		return def
	}
	def.Selectors = append([]string(nil), override...)
	return def
}
