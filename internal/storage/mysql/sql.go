package mysql

// -----------------------------------------------------------------------------
// RECONCILIATION (all run inside the batch transaction)
// -----------------------------------------------------------------------------

// SKIP LOCKED lets concurrent consumers take disjoint batches.
const fetchPendingRawSQL = `
SELECT id, json_data
FROM lamudi_raw_data
WHERE is_process = FALSE
ORDER BY id
LIMIT ?
FOR UPDATE SKIP LOCKED
`

const markProcessedSQL = `UPDATE lamudi_raw_data SET is_process = TRUE WHERE id = ?`

type dimTable struct {
	find   string
	insert string
	parent bool // insert takes the parent id as a third argument
}

var dimTables = map[string]dimTable{
	"region": {
		find:   `SELECT id FROM listing_region WHERE listing_region_id = ?`,
		insert: `INSERT INTO listing_region (listing_region_id, region) VALUES (?, ?)`,
	},
	"city": {
		find:   `SELECT id FROM listing_city WHERE listing_city_id = ?`,
		insert: `INSERT INTO listing_city (listing_city_id, city, region_id) VALUES (?, ?, ?)`,
		parent: true,
	},
	"area": {
		find:   `SELECT id FROM listing_area WHERE listing_area_id = ?`,
		insert: `INSERT INTO listing_area (listing_area_id, area, city_id) VALUES (?, ?, ?)`,
		parent: true,
	},
}

const findListingsByURLSQL = `
SELECT id, property_id, url, title, price
FROM listing
WHERE url = ? AND deleted_at IS NULL
ORDER BY id
`

// UNION keeps both lookups on their own index.
const findListingsByURLOrTitleSQL = `
SELECT id, property_id, url, title, price FROM listing WHERE url = ? AND deleted_at IS NULL
UNION
SELECT id, property_id, url, title, price FROM listing WHERE title = ? AND deleted_at IS NULL
ORDER BY id
`

const insertPropertySQL = `
INSERT INTO property
  (property_type_id, floor_size, lot_size, land_size, building_size,
   no_of_bedrooms, no_of_bathrooms, no_of_parking_spaces, rooms_total,
   ceiling_height, year_built, longitude, latitude, primary_image_url,
   images, amenities, indoor_features, outdoor_features, property_features,
   address, project_name, agent_name, product_owner_name,
   listing_region_id, listing_city_id, listing_area_id)
VALUES
  (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

const insertListingSQL = `
INSERT INTO listing
  (property_id, title, url, project_name, description, is_scraped,
   address, price, price_formatted, offer_type_id)
VALUES
  (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

const updateListingPriceSQL = `UPDATE listing SET price = ?, price_formatted = ? WHERE id = ?`

const updatePropertySnapshotSQL = `
UPDATE property
SET images = ?, agent_name = ?, product_owner_name = ?, project_name = ?
WHERE id = ?
`

// COALESCE lets callers leave changed_at unset.
const insertPriceChangeSQL = `
INSERT INTO price_change_log (listing_id, old_price, new_price, changed_at)
VALUES (?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP(3)))
`

// -----------------------------------------------------------------------------
// INGEST + AI DESCRIPTIONS
// -----------------------------------------------------------------------------

const insertRawSQL = `INSERT INTO lamudi_raw_data (json_data, listing_url, images) VALUES (?, ?, ?)`

// liveListingJoin pairs each property with its oldest live listing.
const liveListingJoin = `
JOIN listing l ON l.id = (
  SELECT MIN(l2.id) FROM listing l2 WHERE l2.property_id = p.id AND l2.deleted_at IS NULL
)`

const descriptionSubjectSelect = `
SELECT
  p.id                 AS property_id,
  p.property_type_id,
  l.title,
  l.description,
  p.address,
  r.region,
  c.city,
  a.area,
  l.price_formatted,
  p.floor_size,
  p.lot_size,
  p.building_size,
  p.no_of_bedrooms,
  p.no_of_bathrooms,
  p.no_of_parking_spaces,
  p.year_built,
  p.project_name,
  p.amenities,
  p.indoor_features,
  p.outdoor_features,
  p.property_features
FROM property p` + liveListingJoin + `
LEFT JOIN listing_region r ON r.id = p.listing_region_id
LEFT JOIN listing_city   c ON c.id = p.listing_city_id
LEFT JOIN listing_area   a ON a.id = p.listing_area_id
`

const missingDescriptionSQL = descriptionSubjectSelect + `
WHERE p.ai_generated_description IS NULL AND p.property_type_id IN (?)
ORDER BY p.created_at DESC, p.id DESC
LIMIT ?
`

const descriptionSubjectSQL = descriptionSubjectSelect + `WHERE p.id = ?`

const saveDescriptionSQL = `UPDATE property SET ai_generated_description = ? WHERE id = ?`

// -----------------------------------------------------------------------------
// READ QUERIES
// -----------------------------------------------------------------------------

const summaryColumns = `
  p.id,
  l.id               AS listing_id,
  l.title,
  l.url,
  l.price,
  l.price_formatted,
  ot.name            AS offer_type,
  pt.name            AS property_type,
  p.no_of_bedrooms,
  p.no_of_bathrooms,
  p.floor_size,
  p.lot_size,
  p.primary_image_url,
  r.region,
  c.city,
  a.area,
  l.created_at`

const summaryFrom = `
FROM property p` + liveListingJoin + `
JOIN property_type pt      ON pt.id = p.property_type_id
LEFT JOIN offer_type ot    ON ot.id = l.offer_type_id
LEFT JOIN listing_region r ON r.id = p.listing_region_id
LEFT JOIN listing_city c   ON c.id = p.listing_city_id
LEFT JOIN listing_area a   ON a.id = p.listing_area_id
`

const getPropertySQL = `
SELECT` + summaryColumns + `,
  l.description,
  p.address,
  p.project_name,
  p.agent_name,
  p.product_owner_name,
  p.building_size,
  p.no_of_parking_spaces,
  p.ceiling_height,
  p.year_built,
  p.longitude,
  p.latitude,
  p.images,
  p.amenities,
  p.indoor_features,
  p.outdoor_features,
  p.property_features,
  p.ai_generated_description
` + summaryFrom + `WHERE p.id = ?`

const priceHistorySQL = `
SELECT listing_id, old_price, new_price, changed_at
FROM price_change_log
WHERE listing_id = ?
ORDER BY changed_at DESC, id DESC
`

const listCitiesSQL = `
SELECT c.id, c.city, c.listing_city_id, c.region_id, r.region
FROM listing_city c
LEFT JOIN listing_region r ON r.id = c.region_id
ORDER BY c.city, c.id
`

const listFavoritesSQL = `
SELECT` + summaryColumns + summaryFrom + `
JOIN user_favorites f ON f.property_id = p.id
WHERE f.user_id = ?
ORDER BY f.created_at DESC, p.id DESC
`

const addFavoriteSQL = `
INSERT INTO user_favorites (user_id, property_id)
VALUES (?, ?)
ON DUPLICATE KEY UPDATE user_id = user_id
`

const removeFavoriteSQL = `DELETE FROM user_favorites WHERE user_id = ? AND property_id = ?`
