package sqlstore

const schema = `
CREATE TABLE IF NOT EXISTS registered_audience (
	platform_id TEXT NOT NULL,
	user_id     TEXT NOT NULL,
	created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (platform_id, user_id)
);

CREATE TABLE IF NOT EXISTS detections (
	image_id         TEXT PRIMARY KEY,
	channel          TEXT NOT NULL,
	captured_at      BIGINT NOT NULL,
	file_format      TEXT NOT NULL,
	drawn_image_path TEXT NOT NULL DEFAULT '',
	detection_method TEXT NOT NULL DEFAULT '',
	recorded_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS detected_objects (
	image_id     TEXT NOT NULL REFERENCES detections(image_id) ON DELETE CASCADE,
	object_index INTEGER NOT NULL,
	label        TEXT NOT NULL,
	score        DOUBLE PRECISION NOT NULL,
	x1           INTEGER NOT NULL,
	y1           INTEGER NOT NULL,
	x2           INTEGER NOT NULL,
	y2           INTEGER NOT NULL,
	meta         TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (image_id, object_index)
);
`

const (
	queryRegisterAudience = `
INSERT INTO registered_audience (platform_id, user_id)
VALUES (:platform_id, :user_id)
ON CONFLICT (platform_id, user_id) DO NOTHING`

	queryUnregisterAudience = `
DELETE FROM registered_audience
WHERE platform_id = :platform_id AND user_id = :user_id`

	queryListAudience = `
SELECT user_id FROM registered_audience
WHERE platform_id = ?
ORDER BY user_id`

	queryDeleteObjects = `DELETE FROM detected_objects WHERE image_id = ?`

	queryUpsertDetection = `
INSERT INTO detections (image_id, channel, captured_at, file_format, drawn_image_path, detection_method)
VALUES (:image_id, :channel, :captured_at, :file_format, :drawn_image_path, :detection_method)
ON CONFLICT (image_id) DO UPDATE SET
	drawn_image_path = excluded.drawn_image_path,
	detection_method = excluded.detection_method`

	queryInsertObject = `
INSERT INTO detected_objects (image_id, object_index, label, score, x1, y1, x2, y2, meta)
VALUES (:image_id, :object_index, :label, :score, :x1, :y1, :x2, :y2, :meta)`
)
