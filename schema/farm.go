package schema

// Farm returns a registry preloaded with the stock farm entity kinds.
// Real deployments extend it with their own bundles via Register.
func Farm() *Registry {
	r := NewRegistry()
	assetFields := Fields{
		{Name: "name", Type: String},
		{Name: "status", Type: String, Default: "active"},
		{Name: "notes", Type: String},
		{Name: "archived", Type: Boolean},
		{Name: "geometry", Type: Map},
		{Name: "location", Type: Reference},
		{Name: "parent", Type: References},
	}
	for _, typ := range []string{"land", "plant", "animal", "equipment", "water"} {
		_ = r.Register(Bundle{Kind: "asset", Type: typ, Fields: assetFields})
	}
	logFields := Fields{
		{Name: "name", Type: String},
		{Name: "status", Type: String, Default: "pending"},
		{Name: "notes", Type: String},
		{Name: "timestamp", Type: Timestamp},
		{Name: "asset", Type: References},
		{Name: "category", Type: References},
		{Name: "owner", Type: Reference},
		{Name: "quantity", Type: References},
	}
	for _, typ := range []string{"activity", "observation", "harvest", "input", "seeding"} {
		_ = r.Register(Bundle{Kind: "log", Type: typ, Fields: logFields})
	}
	_ = r.Register(Bundle{Kind: "plan", Type: "crop", Fields: Fields{
		{Name: "name", Type: String},
		{Name: "status", Type: String, Default: "active"},
		{Name: "season", Type: String},
		{Name: "asset", Type: References},
	}})
	_ = r.Register(Bundle{Kind: "quantity", Type: "standard", Fields: Fields{
		{Name: "measure", Type: String},
		{Name: "value", Type: Float},
		{Name: "label", Type: String},
		{Name: "units", Type: Reference},
	}})
	_ = r.Register(Bundle{Kind: "taxonomy_term", Type: "unit", Fields: Fields{
		{Name: "name", Type: String},
	}})
	_ = r.Register(Bundle{Kind: "taxonomy_term", Type: "log_category", Fields: Fields{
		{Name: "name", Type: String},
	}})
	_ = r.Register(Bundle{Kind: "user", Type: "user", Fields: Fields{
		{Name: "display_name", Type: String},
		{Name: "mail", Type: String},
	}})
	return r
}
