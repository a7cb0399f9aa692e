package config

import "time"

// DefaultActivityWindow is how far back the contact scan reaches.
const DefaultActivityWindow = 91 * 24 * time.Hour

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/tsunagu/data/tsunagu.db"
	}
	if cfg.Storage.HelpIndexPath == "" {
		cfg.Storage.HelpIndexPath = "/usr/local/var/tsunagu/data/indices/help"
	}
	if cfg.Intercom.BaseURL == "" {
		cfg.Intercom.BaseURL = "https://api.intercom.io"
	}
	if cfg.Intercom.BotID == "" {
		cfg.Intercom.BotID = "2693259"
	}
	if cfg.Intercom.RateLimit == 0 {
		cfg.Intercom.RateLimit = 15
	}
	if cfg.Kare.BaseURL == "" {
		cfg.Kare.BaseURL = "https://api.eu.karehq.com"
	}
	if cfg.Kare.Locale == "" {
		cfg.Kare.Locale = "en-GB"
	}
	if cfg.Kare.PageSize == 0 {
		cfg.Kare.PageSize = 50
	}
	if cfg.Kare.RateLimit == 0 {
		cfg.Kare.RateLimit = 5
	}
	if cfg.GitHub.BaseURL == "" {
		cfg.GitHub.BaseURL = "https://api.github.com"
	}
	if cfg.GitHub.SiteRepo == "" {
		cfg.GitHub.SiteRepo = "tutorcruncher/tutorcruncher.com"
	}
	if cfg.GitHub.FeedbackRepo == "" {
		cfg.GitHub.FeedbackRepo = "tutorcruncher/help-feedback"
	}
	if cfg.Site.Origin == "" {
		cfg.Site.Origin = "https://tutorcruncher.com"
	}
	if cfg.Site.SitemapPath == "" {
		cfg.Site.SitemapPath = "/sitemap.xml"
	}
	if cfg.Site.Segment == "" {
		cfg.Site.Segment = "/help/"
	}
	if cfg.Site.ExcludedSuffixes == nil {
		cfg.Site.ExcludedSuffixes = []string{"/help/", "/api/", "/tutors/", "/help-videos/", "/pdf-guides/"}
	}
	if cfg.Site.ContentClass == "" {
		cfg.Site.ContentClass = "help-content"
	}
	if cfg.Site.TitleSuffix == "" {
		cfg.Site.TitleSuffix = " • TutorCruncher"
	}
	if cfg.Site.Concurrency <= 0 {
		cfg.Site.Concurrency = 4
	}
	if cfg.Site.AllowedOrigin == "" {
		cfg.Site.AllowedOrigin = cfg.Site.Origin
	}
	if cfg.Dedupe.PageSize == 0 {
		cfg.Dedupe.PageSize = 150
	}
	if cfg.Dedupe.ActivityWindow == 0 {
		cfg.Dedupe.ActivityWindow = DefaultActivityWindow
	}
	if cfg.Dedupe.Interval == 0 {
		cfg.Dedupe.Interval = time.Hour
	}
	if cfg.Sync.Interval == 0 {
		cfg.Sync.Interval = 24 * time.Hour
	}
}
