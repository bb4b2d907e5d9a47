package mysql

// schema is applied statement by statement so the DSN does not need
// multiStatements. Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS herald_subscriptions (
		id                VARCHAR(64)  NOT NULL PRIMARY KEY,
		owner_id          VARCHAR(191) NOT NULL,
		url               TEXT         NOT NULL,
		description       TEXT         NOT NULL,
		secret            VARCHAR(255) NOT NULL,
		event_mask        BIGINT       NOT NULL DEFAULT 0,
		active            TINYINT(1)   NOT NULL DEFAULT 1,
		last_triggered_at DATETIME(6)  NULL,
		created_at        DATETIME(6)  NOT NULL,
		updated_at        DATETIME(6)  NOT NULL,
		KEY idx_herald_subscriptions_owner (owner_id, active)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS herald_deliveries (
		id              VARCHAR(64)  NOT NULL PRIMARY KEY,
		subscription_id VARCHAR(64)  NOT NULL,
		event_id        VARCHAR(64)  NOT NULL,
		event           VARCHAR(64)  NOT NULL,
		payload         LONGBLOB     NOT NULL,
		status          VARCHAR(16)  NOT NULL DEFAULT 'pending',
		status_code     INT          NULL,
		response        TEXT         NOT NULL,
		attempt_count   INT          NOT NULL DEFAULT 1,
		next_attempt_at DATETIME(6)  NULL,
		delivered_at    DATETIME(6)  NULL,
		created_at      DATETIME(6)  NOT NULL,
		updated_at      DATETIME(6)  NOT NULL,
		KEY idx_herald_deliveries_subscription (subscription_id, created_at),
		KEY idx_herald_deliveries_status (status, updated_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS herald_delivery_attempts (
		delivery_id     VARCHAR(64)  NOT NULL,
		attempt         INT          NOT NULL,
		subscription_id VARCHAR(64)  NOT NULL,
		event_id        VARCHAR(64)  NOT NULL,
		event           VARCHAR(64)  NOT NULL,
		status_code     INT          NOT NULL DEFAULT 0,
		error           TEXT         NOT NULL,
		latency_ms      BIGINT       NOT NULL DEFAULT 0,
		outcome         VARCHAR(16)  NOT NULL,
		at              DATETIME(6)  NOT NULL,
		PRIMARY KEY (delivery_id, attempt)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}
