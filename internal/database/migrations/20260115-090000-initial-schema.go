package migrations

func init() {
	Register(Migration{
		Timestamp:   "20260115-090000",
		Description: "initial schema for site surveillance pipeline",
		Up: []string{
			`CREATE TABLE IF NOT EXISTS thyme_config (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,

			`CREATE TABLE IF NOT EXISTS thyme_credentials (
				id INTEGER PRIMARY KEY CHECK (id = 1),
				access_token_enc TEXT NOT NULL,
				refresh_token_enc TEXT NOT NULL,
				expires_at TEXT NOT NULL,
				scopes TEXT NOT NULL DEFAULT '[]',
				updated_at TEXT NOT NULL
			)`,

			`CREATE TABLE IF NOT EXISTS thyme_pages (
				id TEXT PRIMARY KEY,
				url TEXT NOT NULL UNIQUE,
				slug TEXT NOT NULL,
				title TEXT NOT NULL DEFAULT '',
				meta_description TEXT NOT NULL DEFAULT '',
				page_type TEXT NOT NULL DEFAULT 'site',
				cms_page_id TEXT NOT NULL DEFAULT '',
				has_form INTEGER NOT NULL DEFAULT 0,
				form_ids TEXT NOT NULL DEFAULT '[]',
				has_cta INTEGER NOT NULL DEFAULT 0,
				cta_ids TEXT NOT NULL DEFAULT '[]',
				published_at TEXT,
				last_updated_at TEXT,
				content_age_days INTEGER,
				is_indexed INTEGER NOT NULL DEFAULT 1,
				is_active INTEGER NOT NULL DEFAULT 1,
				title_length INTEGER NOT NULL DEFAULT 0,
				meta_description_length INTEGER NOT NULL DEFAULT 0,
				meta_issues TEXT NOT NULL DEFAULT '[]',
				has_broken_links INTEGER NOT NULL DEFAULT 0,
				broken_link_count INTEGER NOT NULL DEFAULT 0,
				health_score INTEGER NOT NULL DEFAULT 0,
				health_score_breakdown TEXT NOT NULL DEFAULT '{}',
				last_health_check_at TEXT,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_thyme_pages_active ON thyme_pages(is_active)`,
			`CREATE INDEX IF NOT EXISTS idx_thyme_pages_health ON thyme_pages(health_score)`,

			`CREATE TABLE IF NOT EXISTS thyme_analytics_snapshots (
				page_url TEXT NOT NULL,
				snapshot_date TEXT NOT NULL,
				active_users INTEGER NOT NULL DEFAULT 0,
				sessions INTEGER NOT NULL DEFAULT 0,
				page_views INTEGER NOT NULL DEFAULT 0,
				bounce_rate REAL NOT NULL DEFAULT 0,
				avg_session_duration REAL NOT NULL DEFAULT 0,
				users_previous_period INTEGER NOT NULL DEFAULT 0,
				sessions_previous_period INTEGER NOT NULL DEFAULT 0,
				traffic_change_pct REAL NOT NULL DEFAULT 0,
				created_at TEXT NOT NULL,
				PRIMARY KEY (page_url, snapshot_date)
			)`,

			`CREATE TABLE IF NOT EXISTS thyme_search_snapshots (
				page_url TEXT NOT NULL,
				snapshot_date TEXT NOT NULL,
				total_clicks INTEGER NOT NULL DEFAULT 0,
				total_impressions INTEGER NOT NULL DEFAULT 0,
				avg_ctr REAL NOT NULL DEFAULT 0,
				avg_position REAL NOT NULL DEFAULT 0,
				previous_clicks INTEGER NOT NULL DEFAULT 0,
				previous_impressions INTEGER NOT NULL DEFAULT 0,
				previous_ctr REAL NOT NULL DEFAULT 0,
				previous_position REAL NOT NULL DEFAULT 0,
				position_change REAL NOT NULL DEFAULT 0,
				created_at TEXT NOT NULL,
				PRIMARY KEY (page_url, snapshot_date)
			)`,

			`CREATE TABLE IF NOT EXISTS thyme_speed_scores (
				id TEXT PRIMARY KEY,
				page_url TEXT NOT NULL,
				test_date TEXT NOT NULL,
				strategy TEXT NOT NULL,
				performance_score INTEGER NOT NULL DEFAULT 0,
				accessibility_score INTEGER NOT NULL DEFAULT 0,
				seo_score INTEGER NOT NULL DEFAULT 0,
				best_practices_score INTEGER NOT NULL DEFAULT 0,
				lcp_ms INTEGER NOT NULL DEFAULT 0,
				fid_ms INTEGER NOT NULL DEFAULT 0,
				cls REAL NOT NULL DEFAULT 0,
				inp_ms INTEGER NOT NULL DEFAULT 0,
				opportunities TEXT NOT NULL DEFAULT '[]',
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_thyme_speed_page_date ON thyme_speed_scores(page_url, test_date DESC)`,

			`CREATE TABLE IF NOT EXISTS thyme_link_health (
				source_page_url TEXT NOT NULL,
				target_url TEXT NOT NULL,
				link_type TEXT NOT NULL DEFAULT 'internal',
				http_status INTEGER,
				is_broken INTEGER NOT NULL DEFAULT 0,
				is_redirect INTEGER NOT NULL DEFAULT 0,
				redirect_chain TEXT NOT NULL DEFAULT '[]',
				redirect_count INTEGER NOT NULL DEFAULT 0,
				error_message TEXT NOT NULL DEFAULT '',
				first_detected_at TEXT NOT NULL,
				last_checked_at TEXT NOT NULL,
				is_resolved INTEGER NOT NULL DEFAULT 0,
				resolved_at TEXT,
				PRIMARY KEY (source_page_url, target_url)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_thyme_link_broken ON thyme_link_health(is_broken)`,

			`CREATE TABLE IF NOT EXISTS thyme_findings (
				id TEXT PRIMARY KEY,
				page_url TEXT,
				finding_type TEXT NOT NULL,
				severity TEXT NOT NULL,
				title TEXT NOT NULL,
				description TEXT NOT NULL,
				business_impact TEXT NOT NULL DEFAULT '',
				agent_loop_iterations INTEGER NOT NULL DEFAULT 0,
				tools_used TEXT NOT NULL DEFAULT '[]',
				investigation_summary TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL DEFAULT 'new',
				skip_reason TEXT NOT NULL DEFAULT '',
				expires_at TEXT,
				health_score_at_detection INTEGER,
				health_score_at_resolution INTEGER,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_thyme_findings_page ON thyme_findings(page_url)`,
			`CREATE INDEX IF NOT EXISTS idx_thyme_findings_status ON thyme_findings(status)`,

			`CREATE TABLE IF NOT EXISTS thyme_decision_queue (
				id TEXT PRIMARY KEY,
				finding_id TEXT,
				action_type TEXT NOT NULL,
				action_summary TEXT NOT NULL,
				action_detail TEXT NOT NULL DEFAULT '{}',
				severity TEXT NOT NULL,
				confidence REAL NOT NULL DEFAULT 0,
				risk_level TEXT NOT NULL DEFAULT 'low',
				priority INTEGER NOT NULL DEFAULT 3,
				status TEXT NOT NULL DEFAULT 'pending',
				reviewer TEXT NOT NULL DEFAULT '',
				reviewed_at TEXT,
				review_notes TEXT NOT NULL DEFAULT '',
				expires_at TEXT NOT NULL,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_thyme_queue_status ON thyme_decision_queue(status)`,
			`CREATE INDEX IF NOT EXISTS idx_thyme_queue_finding ON thyme_decision_queue(finding_id)`,

			`CREATE TABLE IF NOT EXISTS thyme_change_log (
				id TEXT PRIMARY KEY,
				action_type TEXT NOT NULL,
				entity_type TEXT NOT NULL DEFAULT '',
				entity_id TEXT NOT NULL DEFAULT '',
				outcome TEXT NOT NULL DEFAULT 'pending',
				detail TEXT NOT NULL DEFAULT '{}',
				executed_at TEXT,
				executed_by TEXT NOT NULL DEFAULT '',
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_thyme_changelog_created ON thyme_change_log(created_at DESC)`,

			`CREATE TABLE IF NOT EXISTS thyme_guardrails (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL UNIQUE,
				rule_category TEXT NOT NULL,
				threshold REAL,
				config TEXT NOT NULL DEFAULT '{}',
				violation_action TEXT NOT NULL DEFAULT 'warn',
				is_active INTEGER NOT NULL DEFAULT 1,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,

			`CREATE TABLE IF NOT EXISTS thyme_trend_snapshots (
				id TEXT PRIMARY KEY,
				period TEXT NOT NULL,
				period_start TEXT NOT NULL,
				total_traffic INTEGER NOT NULL DEFAULT 0,
				traffic_change_pct REAL NOT NULL DEFAULT 0,
				avg_health_score REAL NOT NULL DEFAULT 0,
				health_score_distribution TEXT NOT NULL DEFAULT '[]',
				top_declining_pages TEXT NOT NULL DEFAULT '[]',
				top_improving_pages TEXT NOT NULL DEFAULT '[]',
				broken_links_count INTEGER NOT NULL DEFAULT 0,
				new_broken_links INTEGER NOT NULL DEFAULT 0,
				meta_issues_count INTEGER NOT NULL DEFAULT 0,
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_thyme_trend_period ON thyme_trend_snapshots(period, period_start DESC)`,

			`CREATE TABLE IF NOT EXISTS thyme_signals (
				id TEXT PRIMARY KEY,
				source_agent TEXT NOT NULL,
				event_type TEXT NOT NULL,
				payload TEXT NOT NULL DEFAULT '{}',
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_thyme_signals_type_time ON thyme_signals(event_type, created_at DESC)`,

			`CREATE TABLE IF NOT EXISTS thyme_notifications (
				id TEXT PRIMARY KEY,
				finding_id TEXT,
				severity TEXT NOT NULL,
				title TEXT NOT NULL,
				body TEXT NOT NULL DEFAULT '',
				is_read INTEGER NOT NULL DEFAULT 0,
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_thyme_notifications_read ON thyme_notifications(is_read, created_at DESC)`,

			`CREATE TABLE IF NOT EXISTS thyme_conversion_audits (
				id TEXT PRIMARY KEY,
				run_date TEXT NOT NULL,
				tracking_health TEXT NOT NULL,
				configured_event_count INTEGER NOT NULL DEFAULT 0,
				form_count INTEGER NOT NULL DEFAULT 0,
				total_form_submissions INTEGER NOT NULL DEFAULT 0,
				gap_count INTEGER NOT NULL DEFAULT 0,
				recommendations TEXT NOT NULL DEFAULT '[]',
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_thyme_conversion_run_date ON thyme_conversion_audits(run_date DESC)`,

			`CREATE TABLE IF NOT EXISTS thyme_weekly_digests (
				id TEXT PRIMARY KEY,
				week_start TEXT NOT NULL,
				narrative TEXT NOT NULL DEFAULT '',
				figures TEXT NOT NULL DEFAULT '{}',
				generated_by TEXT NOT NULL DEFAULT 'fallback',
				archive_url TEXT,
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_thyme_weekly_digest_week ON thyme_weekly_digests(week_start DESC)`,
		},
	})
}
