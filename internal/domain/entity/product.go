package entity

// Product is a read-only projection of the catalog's listing. The chat core
// only needs the seller reference and a few display fields.
type Product struct {
	ID       string  `json:"id" firestore:"id"`
	SellerID string  `json:"seller_id" firestore:"sellerId"`
	Title    string  `json:"title" firestore:"title"`
	Price    float64 `json:"price" firestore:"price"`
	ImageURL string  `json:"image_url,omitempty" firestore:"imageUrl,omitempty"`
}
