package mysql

// fetch_misses records every degraded or empty review fetch, one row per
// item, latest occurrence wins.
const createFetchMissesSQL = `
CREATE TABLE IF NOT EXISTS fetch_misses (
  item_id     VARCHAR(64)  NOT NULL,
  http_status INT          NOT NULL,
  reason      VARCHAR(512) NOT NULL,
  seen_at     TIMESTAMP    NOT NULL DEFAULT CURRENT_TIMESTAMP,
  PRIMARY KEY (item_id),
  KEY idx_seen_at (seen_at)
)
`

const insertMissSQL = `
INSERT INTO fetch_misses (item_id, http_status, reason)
VALUES (?, ?, ?)
ON DUPLICATE KEY UPDATE
  http_status = VALUES(http_status),
  reason      = VALUES(reason),
  seen_at     = CURRENT_TIMESTAMP
`

const listMissesSQL = `
SELECT item_id, http_status, reason, seen_at
FROM fetch_misses
ORDER BY seen_at DESC, item_id
LIMIT ?
`
