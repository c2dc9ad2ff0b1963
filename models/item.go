package models

// Item is one product record returned by the catalog API.
type Item struct {
	ItemID             string `json:"item_id"`
	ParentItemID       string `json:"parent_item_id"`
	Name               string `json:"name"`
	BrandName          string `json:"brand_name"`
	UPC                string `json:"upc"`
	MSRP               string `json:"msrp"`
	SalePrice          string `json:"sale_price"`
	ShortDescription   string `json:"short_description"`
	LongDescription    string `json:"long_description"`
	ThumbnailImage     string `json:"thumbnail_image"`
	MediumImage        string `json:"medium_image"`
	LargeImage         string `json:"large_image"`
	Stock              string `json:"stock"`
	AvailableOnline    string `json:"available_online"`
	ProductTrackingURL string `json:"product_tracking_url"`
	CategoryNode       string `json:"category_node"`
	CategoryPath       string `json:"category_path"`
	CustomerRating     string `json:"customer_rating"`
	NumReviews         string `json:"num_reviews"`
}

// OutputRow is an Item flattened with the category and subtree it was
// fetched for.
type OutputRow struct {
	Item

	SourceCategoryID   string `json:"source_category_id"`
	SourceCategoryName string `json:"source_category_name"`
	SourceCategoryPath string `json:"source_category_path"`
	SubtreeID          string `json:"subtree_id"`
	SubtreeName        string `json:"subtree_name"`
	SubtreeFile        string `json:"subtree_file"`
}

// OutputColumns is the header shared by every CSV tier.
var OutputColumns = []string{
	"item_id",
	"parent_item_id",
	"name",
	"brand_name",
	"upc",
	"msrp",
	"sale_price",
	"short_description",
	"long_description",
	"thumbnail_image",
	"medium_image",
	"large_image",
	"stock",
	"available_online",
	"product_tracking_url",
	"category_node",
	"category_path",
	"customer_rating",
	"num_reviews",
	"source_category_id",
	"source_category_name",
	"source_category_path",
	"subtree_id",
	"subtree_name",
	"subtree_file",
}

// NewOutputRow flattens item with its owning category and subtree.
func NewOutputRow(item Item, row CategoryRow, st *Subtree) *OutputRow {
	out := &OutputRow{
		Item:               item,
		SourceCategoryID:   row.ID,
		SourceCategoryName: row.Name,
		SourceCategoryPath: row.Path,
	}
	if st != nil {
		out.SubtreeID = st.RootID
		out.SubtreeName = st.RootName
		out.SubtreeFile = st.SourceFile
	}
	return out
}

// Record returns the row's values in OutputColumns order.
func (r *OutputRow) Record() []string {
	return []string{
		r.ItemID,
		r.ParentItemID,
		r.Name,
		r.BrandName,
		r.UPC,
		r.MSRP,
		r.SalePrice,
		r.ShortDescription,
		r.LongDescription,
		r.ThumbnailImage,
		r.MediumImage,
		r.LargeImage,
		r.Stock,
		r.AvailableOnline,
		r.ProductTrackingURL,
		r.CategoryNode,
		r.CategoryPath,
		r.CustomerRating,
		r.NumReviews,
		r.SourceCategoryID,
		r.SourceCategoryName,
		r.SourceCategoryPath,
		r.SubtreeID,
		r.SubtreeName,
		r.SubtreeFile,
	}
}
