package database

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    email TEXT NOT NULL UNIQUE,
    display_name TEXT NOT NULL,
    password_hash TEXT NOT NULL,
    current_credits INT NOT NULL DEFAULT 0 CHECK (current_credits >= 0),
    total_images_generated INT NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS users_created_at_idx ON users (created_at);

CREATE TABLE IF NOT EXISTS generation_requests (
    id UUID PRIMARY KEY,
    user_id UUID NOT NULL REFERENCES users(id),
    model TEXT NOT NULL,
    style TEXT NOT NULL,
    color TEXT NOT NULL,
    size TEXT NOT NULL,
    prompt TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL CHECK (status IN ('queued', 'processing', 'completed', 'failed')),
    credits_deducted INT NOT NULL CHECK (credits_deducted > 0),
    image_url TEXT,
    error_message TEXT,
    progress INT NOT NULL DEFAULT 0 CHECK (progress BETWEEN 0 AND 100),
    dispatch_error TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    completed_at TIMESTAMPTZ,
    CHECK (
        (status = 'completed' AND image_url IS NOT NULL AND error_message IS NULL) OR
        (status = 'failed' AND error_message IS NOT NULL AND image_url IS NULL) OR
        (status IN ('queued', 'processing'))
    )
);

CREATE INDEX IF NOT EXISTS generation_requests_user_idx ON generation_requests (user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS generation_requests_created_idx ON generation_requests (created_at);
CREATE INDEX IF NOT EXISTS generation_requests_open_idx ON generation_requests (updated_at)
    WHERE status IN ('queued', 'processing');

CREATE TABLE IF NOT EXISTS credit_transactions (
    id UUID PRIMARY KEY,
    user_id UUID NOT NULL REFERENCES users(id),
    type TEXT NOT NULL CHECK (type IN ('deduction', 'refund')),
    credits INT NOT NULL CHECK (credits > 0),
    generation_request_id UUID NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    balance_after INT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
);

CREATE INDEX IF NOT EXISTS credit_transactions_user_idx ON credit_transactions (user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS credit_transactions_created_idx ON credit_transactions (created_at);
CREATE UNIQUE INDEX IF NOT EXISTS credit_transactions_refund_once
    ON credit_transactions (generation_request_id) WHERE type = 'refund';
CREATE UNIQUE INDEX IF NOT EXISTS credit_transactions_deduct_once
    ON credit_transactions (generation_request_id) WHERE type = 'deduction';

CREATE TABLE IF NOT EXISTS reports (
    id UUID PRIMARY KEY,
    week_start TIMESTAMPTZ NOT NULL UNIQUE,
    week_end TIMESTAMPTZ NOT NULL,
    stats JSONB NOT NULL,
    anomalies JSONB NOT NULL DEFAULT '[]',
    anomaly_score DOUBLE PRECISION NOT NULL DEFAULT 0,
    severity_level TEXT NOT NULL,
    baseline_periods INT NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`
