package classifier

// touchlessInstructions is the system prompt for page classification
const touchlessInstructions = `You review the website text of a car wash and decide whether it offers a touchless (touch-free, brushless, no-contact) automatic wash.

Rules:
- verdict is true if the text mentions touchless, touch-free, touch free, brushless, laser wash, or no-contact washing, even when brush or soft-cloth options are also offered. A wash that "offers both" is true.
- verdict is false only if the text describes exclusively brush, soft-touch, friction, cloth, or hand-wash service with no touchless option.
- verdict is null if the text has no relevant signal (for example an unrelated business, a parked domain, or a page without service details).
- evidence is a short quote or paraphrase (under 200 characters) of the text that decided the verdict, or an empty string when verdict is null.
- amenities lists only tags from this set that the text clearly supports: %s.

Reply with exactly one JSON object and nothing else:
{"verdict": true | false | null, "evidence": "...", "amenities": ["..."]}`

// photoInstructions is the system prompt for photo selection
const photoInstructions = `You pick photos for a car wash directory listing from a numbered list of image URLs.

Choose:
- hero_index: the best exterior or wash-bay photo, or null.
- logo_index: the business logo, or null.
- gallery_indices: up to %d further useful photos, best first. Exclude icons, payment badges, stock art, maps, and social buttons.
- no_good_photos: true when nothing in the list is usable.

Reply with exactly one JSON object and nothing else:
{"hero_index": 0, "logo_index": null, "gallery_indices": [], "no_good_photos": false}`

// KnownAmenities is the amenity vocabulary the classifier may return
var KnownAmenities = []string{
	"vacuum",
	"free_vacuum",
	"mat_cleaner",
	"air_freshener",
	"tire_shine",
	"undercarriage",
	"wax",
	"ceramic_coating",
	"spot_free_rinse",
	"self_serve",
	"detailing",
	"membership",
	"open_24_hours",
	"rv_wash",
	"truck_wash",
	"pet_wash",
	"ev_charging",
	"card_payment",
}
