package domain

// CategoryOther is assigned to commodities absent from the lookup table.
const CategoryOther = "Other"

// commodityCategories maps feed commodity names to broad categories.
// Keys are case-sensitive because the feed is consistent about casing and
// commodity names are stored exactly as received.
var commodityCategories = map[string]string{
	// Cereals
	"Wheat":                       "Cereals",
	"Rice":                        "Cereals",
	"Paddy(Dhan)(Common)":         "Cereals",
	"Paddy(Dhan)(Basmati)":        "Cereals",
	"Maize":                       "Cereals",
	"Barley (Jau)":                "Cereals",
	"Jowar(Sorghum)":              "Cereals",
	"Bajra(Pearl Millet/Cumbu)":   "Cereals",
	"Ragi (Finger Millet)":        "Cereals",

	// Pulses
	"Bengal Gram(Gram)(Whole)":        "Pulses",
	"Arhar (Tur/Red Gram)(Whole)":     "Pulses",
	"Green Gram (Moong)(Whole)":       "Pulses",
	"Black Gram (Urd Beans)(Whole)":   "Pulses",
	"Lentil (Masur)(Whole)":           "Pulses",
	"Kulthi(Horse Gram)":              "Pulses",
	"Peas(Dry)":                       "Pulses",

	// Vegetables
	"Onion":                  "Vegetables",
	"Potato":                 "Vegetables",
	"Tomato":                 "Vegetables",
	"Brinjal":                "Vegetables",
	"Cabbage":                "Vegetables",
	"Cauliflower":            "Vegetables",
	"Green Chilli":           "Vegetables",
	"Bhindi(Ladies Finger)":  "Vegetables",
	"Bottle gourd":           "Vegetables",
	"Bitter gourd":           "Vegetables",
	"Pumpkin":                "Vegetables",
	"Carrot":                 "Vegetables",
	"Spinach":                "Vegetables",
	"Green Peas":             "Vegetables",
	"Cucumbar(Kheera)":       "Vegetables",

	// Fruits
	"Banana":       "Fruits",
	"Apple":        "Fruits",
	"Mango":        "Fruits",
	"Orange":       "Fruits",
	"Papaya":       "Fruits",
	"Pomegranate":  "Fruits",
	"Grapes":       "Fruits",
	"Guava":        "Fruits",
	"Water Melon":  "Fruits",

	// Oilseeds
	"Mustard":                        "Oilseeds",
	"Groundnut":                      "Oilseeds",
	"Soyabean":                       "Oilseeds",
	"Sunflower":                      "Oilseeds",
	"Sesamum(Sesame,Gingelly,Til)":   "Oilseeds",
	"Castor Seed":                    "Oilseeds",
	"Copra":                          "Oilseeds",

	// Spices
	"Garlic":                 "Spices",
	"Ginger(Green)":          "Spices",
	"Dry Chillies":           "Spices",
	"Turmeric":               "Spices",
	"Coriander(Leaves)":      "Spices",
	"Cummin Seed(Jeera)":     "Spices",
	"Black Pepper":           "Spices",
	"Cardamoms":              "Spices",

	// Fibres
	"Cotton": "Fibres",
	"Jute":   "Fibres",

	// Cash crops
	"Sugarcane":    "Cash Crops",
	"Tobacco":      "Cash Crops",
	"Arecanut(Betelnut/Supari)": "Cash Crops",
}

// CommodityCategory returns the category for a feed commodity name,
// defaulting to CategoryOther for names outside the lookup table.
func CommodityCategory(name string) string {
	if c, ok := commodityCategories[name]; ok {
		return c
	}
	return CategoryOther
}
