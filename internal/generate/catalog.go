package generate

// Platforms where trending products are spotted.
var Platforms = []string{"TikTok", "Instagram", "YouTube", "Facebook", "Pinterest"}

type categorySeed struct {
	name          string
	subcategories []string
	products      []string
}

// catalog is the deterministic fallback used whenever generation fails.
var catalog = []categorySeed{
	{"Electronics",
		[]string{"Smartphone Accessories", "Smart Home", "Wearables", "Audio", "Gadgets"},
		[]string{"Magnetic Phone Mount", "Smart LED Strip", "Foldable Wireless Charger", "Mini Projector", "Bluetooth Earbuds"}},
	{"Home & Kitchen",
		[]string{"Kitchen Gadgets", "Home Decor", "Organization", "Bedding", "Bath"},
		[]string{"Milk Frother", "Vegetable Chopper", "Silicone Baking Mats", "Digital Kitchen Scale", "Sous Vide Cooker"}},
	{"Fashion",
		[]string{"Accessories", "Clothing", "Footwear", "Bags", "Watches"},
		[]string{"Minimalist Watch", "Crossbody Phone Bag", "Stackable Rings", "Cloud Slippers", "Bamboo Socks"}},
	{"Beauty",
		[]string{"Skincare", "Makeup", "Hair Care", "Fragrance", "Tools"},
		[]string{"Jade Face Roller", "Vitamin C Serum", "Hair Growth Oil", "Eyebrow Stamp", "Makeup Eraser Cloth"}},
	{"Toys & Games",
		[]string{"Educational", "Puzzles", "Action Figures", "Board Games", "Outdoor"},
		[]string{"Magnetic Building Blocks", "Water Drawing Mat", "LED Drone", "Wooden Puzzle Set", "Slime Kit"}},
	{"Sports & Outdoors",
		[]string{"Fitness", "Camping", "Water Sports", "Team Sports", "Cycling"},
		[]string{"Resistance Bands Set", "Foldable Water Bottle", "Yoga Wheel", "Jump Rope", "Hiking Socks"}},
	{"Health & Wellness",
		[]string{"Supplements", "Personal Care", "Fitness Trackers", "Massage", "Aromatherapy"},
		[]string{"Sleep Mask", "Digital Body Scale", "Posture Corrector", "Acupressure Mat", "Essential Oil Diffuser"}},
	{"Pet Supplies",
		[]string{"Dog Accessories", "Cat Toys", "Pet Grooming", "Food & Treats", "Beds & Furniture"},
		[]string{"Pet Hair Remover", "Slow Feeder Bowl", "Automatic Toy", "Grooming Glove", "Pet Water Fountain"}},
	{"Baby",
		[]string{"Feeding", "Diapering", "Toys", "Clothing", "Travel Gear"},
		[]string{"Silicone Teether", "Sound Machine", "Diaper Caddy", "Baby Food Maker", "Swaddle Blanket"}},
	{"Jewelry",
		[]string{"Necklaces", "Earrings", "Bracelets", "Rings", "Sets"},
		[]string{"Layered Necklace", "Huggie Earrings", "Minimalist Bracelet", "Birthstone Ring", "Anklet"}},
}

// Used for categories outside the catalog, e.g. from an LLM or a feed.
var genericSeed = categorySeed{
	subcategories: []string{"Best Sellers", "New Arrivals", "Gift Ideas", "Everyday Essentials", "Viral Finds"},
	products:      []string{"Portable Organizer", "Travel Kit", "Starter Set", "Multi-Tool", "Refill Pack"},
}

// Variant prefixes applied once a category's base names are used up.
var variants = []string{"Mini", "Smart", "Portable", "Deluxe", "Eco", "Pro", "Wireless", "Compact", "Premium", "Travel"}

// Finish prefixes applied once every variant has been used.
var finishes = []string{"Black", "White", "Blue", "Green", "Pink", "Silver", "Matte", "Golden", "Crystal", "Neon"}

// DefaultCategories returns the fallback category list in catalog order.
func DefaultCategories() []string {
	out := make([]string, len(catalog))
	for i, c := range catalog {
		out[i] = c.name
	}
	return out
}

func seedFor(category string) categorySeed {
	for _, c := range catalog {
		if c.name == category {
			return c
		}
	}
	s := genericSeed
	s.name = category
	return s
}
