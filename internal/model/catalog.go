package model

import "time"

// CatalogEntry is a reference record that extracted line items are matched against.
type CatalogEntry struct {
	ID          uint   `gorm:"primaryKey" json:"-"`
	Key         string `gorm:"type:varchar(64);uniqueIndex;not null" json:"key"`
	Description string `gorm:"type:varchar(450)" json:"description"`
}

// ProductMapping is a confirmed link from an invoice product/supplier pair to
// a catalog key. ProductText and SupplierText are stored normalized.
type ProductMapping struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	ProductText        string    `gorm:"type:varchar(450);uniqueIndex:idx_mapping_pair;not null" json:"product_text"`
	SupplierText       string    `gorm:"type:varchar(255);uniqueIndex:idx_mapping_pair;not null" json:"supplier_text"`
	CatalogKey         string    `gorm:"type:varchar(64);not null" json:"catalog_key"`
	CatalogDescription string    `gorm:"type:varchar(450)" json:"catalog_description"`
	InvoiceProductCode string    `gorm:"type:varchar(64)" json:"invoice_product_code"`
	CreatedAt          time.Time `json:"created_at"`
}
