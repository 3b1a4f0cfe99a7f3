package runner

import (
	"github.com/entrhq/postforge/pkg/auth"
	"github.com/entrhq/postforge/pkg/browser"
	"github.com/entrhq/postforge/pkg/config"
	"github.com/entrhq/postforge/pkg/poster"
	"github.com/entrhq/postforge/pkg/session"
)

// launchOptions maps the browser section onto a launch request.
func launchOptions(cfg *config.Config) browser.LaunchOptions {
	return browser.LaunchOptions{
		ProfileDir: cfg.Browser.ProfileDir,
		Headless:   cfg.Browser.Headless,
		Viewport: browser.Viewport{
			Width:  cfg.Browser.ViewportWidth,
			Height: cfg.Browser.ViewportHeight,
		},
		SlowMo:         cfg.Browser.SlowMo,
		Args:           append([]string(nil), cfg.Browser.LaunchArgs...),
		DefaultTimeout: cfg.Timing.NavigateTimeout,
	}
}

func sessionOptions(cfg *config.Config) session.Options {
	return session.Options{
		Path:            cfg.Session.Path,
		MaxAge:          cfg.Session.MaxAge,
		FeedURL:         cfg.Site.FeedURL,
		OriginURL:       cfg.Site.Origin,
		NavigateTimeout: cfg.Timing.NavigateTimeout,
	}
}

func authOptions(cfg *config.Config, portable string) auth.Options {
	opts := auth.DefaultOptions()
	opts.LoginURL = cfg.Site.LoginURL
	opts.FeedURL = cfg.Site.FeedURL
	opts.PortableSession = portable
	opts.ElementWait = cfg.Timing.ElementWait
	opts.MarkerWait = cfg.Timing.MarkerWait
	opts.CaptchaWait = cfg.Timing.CaptchaWait
	opts.Settle = cfg.Timing.Settle
	opts.TypingMinDelay = cfg.Typing.MinDelay
	opts.TypingMaxDelay = cfg.Typing.MaxDelay
	opts.MaxPolls = cfg.Challenge.MaxPolls
	opts.PollInterval = cfg.Challenge.PollInterval

	t := &opts.Targets
	t.Email = cfg.Target(config.TargetEmail, t.Email)
	t.Password = cfg.Target(config.TargetPassword, t.Password)
	t.Submit = cfg.Target(config.TargetLoginSubmit, t.Submit)
	t.LoggedIn = cfg.Target(config.TargetLoggedIn, t.LoggedIn)
	t.Captcha = cfg.Target(config.TargetCaptcha, t.Captcha)
	return opts
}

func posterOptions(cfg *config.Config) poster.Options {
	opts := poster.DefaultOptions()
	opts.ElementWait = cfg.Timing.ElementWait
	opts.UploadWait = cfg.Timing.UploadWait
	opts.ToastWait = cfg.Timing.ToastWait
	opts.StepPause = cfg.Timing.StepPause
	opts.Settle = cfg.Timing.Settle
	opts.HumanTyping = cfg.Typing.HumanPost
	opts.TypingMinDelay = cfg.Typing.MinDelay
	opts.TypingMaxDelay = cfg.Typing.MaxDelay

	t := &opts.Targets
	t.ComposeTrigger = cfg.Target(config.TargetComposeTrigger, t.ComposeTrigger)
	t.Composer = cfg.Target(config.TargetComposer, t.Composer)
	t.AddMedia = cfg.Target(config.TargetAddMedia, t.AddMedia)
	t.FileInput = cfg.Target(config.TargetFileInput, t.FileInput)
	t.UploadPreview = cfg.Target(config.TargetUploadPreview, t.UploadPreview)
	t.MediaNext = cfg.Target(config.TargetMediaNext, t.MediaNext)
	t.Submit = cfg.Target(config.TargetPostSubmit, t.Submit)
	t.SuccessToast = cfg.Target(config.TargetSuccessToast, t.SuccessToast)
	return opts
}
