package domain

import (
	"time"
)

// Listing represents an incoming classified-ad listing to be assessed.
type Listing struct {
	// Core identifiers
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`

	// Listing content
	Title       string `json:"title"`
	Description string `json:"description"`

	// Category slug (e.g., "informatique", "telephonie")
	Category string `json:"category"`

	// Price is nil when the listing carries no price.
	Price *float64 `json:"price,omitempty"`

	// Location is nil when the page exposed none.
	Location *string `json:"location,omitempty"`

	// PhotosCount is the number of photos on the listing (0 when unknown).
	PhotosCount int `json:"photosCount"`

	// Seller is nil when no seller profile was extracted.
	Seller *SellerInfo `json:"seller,omitempty"`

	// Temporal
	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"createdAt"`

	// Optional metadata supplied by the extraction layer
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// SellerInfo describes the seller profile attached to a listing.
// Each field is nil when the marketplace page did not expose it;
// a present zero (e.g., ReviewCount of 0) is a real signal, not absence.
type SellerInfo struct {
	AccountAgeDays    *int `json:"accountAgeDays,omitempty"`
	ReviewCount       *int `json:"reviewCount,omitempty"`
	SimilarItemsCount *int `json:"similarItemsCount,omitempty"`
}

// FullText returns the joined title and description,
// the text surface every keyword and pattern analyzer scans.
func (l *Listing) FullText() string {
	return l.Title + " " + l.Description
}

// ListingRequest is the API request payload for listing analysis.
type ListingRequest struct {
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Category    string                 `json:"category"`
	Price       *float64               `json:"price,omitempty"`
	Location    *string                `json:"location,omitempty"`
	PhotosCount int                    `json:"photosCount"`
	Seller      *SellerInfo            `json:"seller,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// ToListing converts a request to a Listing domain object.
func (r *ListingRequest) ToListing() *Listing {
	now := time.Now().UTC()
	return &Listing{
		Title:       r.Title,
		Description: r.Description,
		Category:    r.Category,
		Price:       r.Price,
		Location:    r.Location,
		PhotosCount: r.PhotosCount,
		Seller:      r.Seller,
		Timestamp:   now,
		CreatedAt:   now,
		Metadata:    r.Metadata,
	}
}
