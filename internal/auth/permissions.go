package auth

const (
	PermProfileRead      = "profile.read"
	PermCategoriesCreate = "categories.create"
	PermCategoriesDelete = "categories.delete"
	PermProductsCreate   = "products.create"
	PermProductsDelete   = "products.delete"
	PermDirectoryManage  = "directory.manage"
)

const (
	GroupCustomer = "customer"
	GroupManager  = "catalog-manager"
	GroupAdmin    = "admin"
)

var BuiltinPermissions = []Permission{
	{Key: PermProfileRead, Description: "Read own profile"},
	{Key: PermCategoriesCreate, Description: "Create catalog categories"},
	{Key: PermCategoriesDelete, Description: "Delete catalog categories"},
	{Key: PermProductsCreate, Description: "Create catalog products"},
	{Key: PermProductsDelete, Description: "Delete catalog products"},
	{Key: PermDirectoryManage, Description: "Manage users and permission groups"},
}

// BuiltinGroups maps the seeded permission groups to the permissions they bundle.
var BuiltinGroups = map[string][]string{
	GroupCustomer: {PermProfileRead},
	GroupManager: {
		PermProfileRead,
		PermCategoriesCreate,
		PermCategoriesDelete,
		PermProductsCreate,
		PermProductsDelete,
	},
	GroupAdmin: {
		PermProfileRead,
		PermCategoriesCreate,
		PermCategoriesDelete,
		PermProductsCreate,
		PermProductsDelete,
		PermDirectoryManage,
	},
}
