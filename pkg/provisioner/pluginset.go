package provisioner

import "github.com/hostfleet/controlplane/pkg/tenant"

// essentialPlugins installs on every tenant regardless of industry or plan.
var essentialPlugins = []string{
	"advanced-custom-fields-pro",
	"wordpress-seo",
	"redis-cache",
	"wordfence",
	"updraftplus",
	"w3-total-cache",
}

// industryPlugins is keyed by the tenant's declared industry.
var industryPlugins = map[string][]string{
	"restaurant":  {"restaurant-menu", "wp-reservation"},
	"healthcare":  {"bookly", "medical-history"},
	"ecommerce":   {"woocommerce", "woocommerce-pagseguro"},
	"education":   {"learnpress", "wp-courseware"},
	"real-estate": {"estatik", "property-listings"},
}

// planPlugins is keyed by subscription tier.
var planPlugins = map[tenant.PlanTier][]string{
	tenant.PlanProfessional: {"google-analytics-for-wordpress", "mailchimp-for-wp"},
	tenant.PlanBusiness:     {"wp-rocket", "imagify", "social-media-share-buttons"},
	tenant.PlanAgency:       {"white-label-cms", "client-portal", "mainwp-child"},
}

// pluginsFor combines the essential, industry, and plan plugin sets for a
// new tenant (§4.2 step 8).
func pluginsFor(industry string, plan tenant.PlanTier) []string {
	plugins := append([]string{}, essentialPlugins...)
	plugins = append(plugins, industryPlugins[industry]...)
	plugins = append(plugins, planPlugins[plan]...)
	return plugins
}
