package artifact

// Descriptor parameterizes the generic store, service, and helper for one
// artifact type. The uniform contract (list/pull/push/delete plus the
// capability flags) is driven entirely by these fields.
type Descriptor struct {
	// ServiceName is the authoring API collection name, e.g. "types".
	ServiceName string

	// APIPath is the REST path of the collection.
	APIPath string

	// FolderName is the virtual folder under the working directory.
	FolderName string

	// Suffix is appended to the artifact file name, e.g. "_tmd.json".
	Suffix string

	// Classification is the search-index classification value, where the
	// type is searchable (assets only, currently).
	Classification string

	// DefaultConcurrency bounds in-flight tasks per chunk.
	DefaultConcurrency int

	// UpdateIsCreate aliases update to create (renditions are append-only).
	UpdateIsCreate bool

	// NoDelete rejects delete operations outright (renditions).
	NoDelete bool

	// MultiSite marks artifact families rejected by Base-tier tenants.
	MultiSite bool

	// PruneFields are stripped from items before they are written to disk.
	PruneFields []string

	// RetryPushCodes are type-specific hub error codes on HTTP 400 that
	// signal transient reference violations and allow a push retry.
	RetryPushCodes []int
}

// Descriptors for every supported artifact type.
var (
	Types = Descriptor{
		ServiceName:        "types",
		APIPath:            "/authoring/v1/types",
		FolderName:         "types",
		Suffix:             "_tmd.json",
		DefaultConcurrency: 5,
		RetryPushCodes:     []int{2504},
	}

	Content = Descriptor{
		ServiceName:        "content",
		APIPath:            "/authoring/v1/content",
		FolderName:         "content",
		Suffix:             "_cmd.json",
		DefaultConcurrency: 5,
		RetryPushCodes:     []int{2503},
	}

	Assets = Descriptor{
		ServiceName:        "assets",
		APIPath:            "/authoring/v1/assets",
		FolderName:         "assets",
		Suffix:             "_amd.json",
		Classification:     "asset",
		DefaultConcurrency: 10,
	}

	Categories = Descriptor{
		ServiceName:        "categories",
		APIPath:            "/authoring/v1/categories",
		FolderName:         "categories",
		Suffix:             "_catmd.json",
		DefaultConcurrency: 5,
	}

	Renditions = Descriptor{
		ServiceName:        "renditions",
		APIPath:            "/authoring/v1/renditions",
		FolderName:         "renditions",
		Suffix:             "_rmd.json",
		DefaultConcurrency: 5,
		UpdateIsCreate:     true,
		NoDelete:           true,
	}

	ImageProfiles = Descriptor{
		ServiceName:        "image-profiles",
		APIPath:            "/authoring/v1/image-profiles",
		FolderName:         "image-profiles",
		Suffix:             "_ipmd.json",
		DefaultConcurrency: 5,
	}

	Layouts = Descriptor{
		ServiceName:        "layouts",
		APIPath:            "/authoring/v1/layouts",
		FolderName:         "layouts",
		Suffix:             "_lmd.json",
		DefaultConcurrency: 5,
		MultiSite:          true,
	}

	LayoutMappings = Descriptor{
		ServiceName:        "layout-mappings",
		APIPath:            "/authoring/v1/layout-mappings",
		FolderName:         "layout-mappings",
		Suffix:             "_lmmd.json",
		DefaultConcurrency: 5,
		MultiSite:          true,
	}

	Sites = Descriptor{
		ServiceName:        "sites",
		APIPath:            "/authoring/v1/sites",
		FolderName:         "sites",
		Suffix:             "_smd.json",
		DefaultConcurrency: 5,
		MultiSite:          true,
	}

	Pages = Descriptor{
		ServiceName:        "pages",
		APIPath:            "/authoring/v1/pages",
		FolderName:         "sites",
		Suffix:             "_pmd.json",
		DefaultConcurrency: 5,
		MultiSite:          true,
	}

	PublishingSources = Descriptor{
		ServiceName:        "publishing-sources",
		APIPath:            "/publishing/v1/sources",
		FolderName:         "publishing-sources",
		Suffix:             "_psmd.json",
		DefaultConcurrency: 5,
	}

	PublishingProfiles = Descriptor{
		ServiceName:        "publishing-profiles",
		APIPath:            "/publishing/v1/profiles",
		FolderName:         "publishing-profiles",
		Suffix:             "_ppmd.json",
		DefaultConcurrency: 5,
	}
)

// All returns every descriptor in dependency-friendly pull order (types
// before content, assets before renditions, sites before pages).
func All() []Descriptor {
	return []Descriptor{
		ImageProfiles,
		Categories,
		Assets,
		Renditions,
		Layouts,
		Types,
		LayoutMappings,
		Content,
		Sites,
		Pages,
		PublishingSources,
		PublishingProfiles,
	}
}

// ByServiceName looks up a descriptor by its service name.
func ByServiceName(name string) (Descriptor, bool) {
	for _, d := range All() {
		if d.ServiceName == name {
			return d, true
		}
	}

	return Descriptor{}, false
}
