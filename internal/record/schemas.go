package record

import (
	"strings"

	"github.com/hitoshi/fleetadmin/internal/backend"
)

var (
	carsResource           = backend.Resource{Path: "/cars", Singular: "vehicle", Plural: "vehicles"}
	driversResource        = backend.Resource{Path: "/drivers", Singular: "driver", Plural: "drivers"}
	fuelResource           = backend.Resource{Path: "/fuel", Singular: "fuel entry", Plural: "fuel entries"}
	serviceRecordsResource = backend.Resource{Path: "/service-records", Singular: "service record", Plural: "service records"}
	serviceTasksResource   = backend.Resource{Path: "/service-tasks", Singular: "service task", Plural: "service tasks"}
	sparePartsResource     = backend.Resource{Path: "/spare-parts", Singular: "spare part", Plural: "spare parts"}
	expensesResource       = backend.Resource{Path: "/additional-expenses", Singular: "additional expense", Plural: "additional expenses"}
)

var (
	fuelTypes         = []string{"PETROL", "DIESEL", "ELECTRIC", "HYBRID", "LPG"}
	vehicleStatuses   = []string{"ACTIVE", "IN_SERVICE", "INACTIVE", "SOLD"}
	serviceStatuses   = []string{"SCHEDULED", "IN_PROGRESS", "COMPLETED", "CANCELLED"}
	taskStatuses      = []string{"PENDING", "IN_PROGRESS", "DONE"}
	expenseCategories = []string{"INSURANCE", "TAX", "PARKING", "TOLL", "FINE", "CLEANING", "OTHER"}
)

// carLookup は車両を「ブランド モデル (ナンバー)」の形式で表示する。
var carLookup = &Lookup{
	Resource: carsResource,
	Label: func(rec backend.Record) string {
		name := joinNonEmpty(" ", formatValue(rec["brand"]), formatValue(rec["model"]))
		if plate := formatValue(rec["licensePlate"]); plate != "" {
			name += " (" + plate + ")"
		}
		return name
	},
}

var serviceRecordLookup = &Lookup{
	Resource: serviceRecordsResource,
	Label: func(rec backend.Record) string {
		return joinNonEmpty(" ", formatValue(rec["serviceDate"]), formatValue(rec["description"]))
	},
}

// Vehicle は車両フォーム。
var Vehicle = &Schema{
	Slug:     "cars",
	Title:    "Vehicles",
	Resource: carsResource,
	Fields: []Field{
		{Name: "brand", Label: "Brand", Kind: KindText, Required: true},
		{Name: "model", Label: "Model", Kind: KindText, Required: true},
		{Name: "year", Label: "Year", Kind: KindInteger, Min: bound(1900), Max: bound(2100)},
		{Name: "licensePlate", Label: "License plate", Kind: KindText, Required: true},
		{Name: "vin", Label: "VIN", Kind: KindText},
		{Name: "mileage", Label: "Mileage", Kind: KindDecimal, Min: bound(0)},
		{Name: "fuelType", Label: "Fuel type", Kind: KindEnum, Options: fuelTypes},
		{Name: "status", Label: "Status", Kind: KindEnum, Options: vehicleStatuses},
	},
	Columns: []string{"brand", "model", "year", "licensePlate", "status"},
}

// Driver はドライバーフォーム。
var Driver = &Schema{
	Slug:     "drivers",
	Title:    "Drivers",
	Resource: driversResource,
	Fields: []Field{
		{Name: "firstName", Label: "First name", Kind: KindText, Required: true},
		{Name: "lastName", Label: "Last name", Kind: KindText, Required: true},
		{Name: "licenseNumber", Label: "License number", Kind: KindText, Required: true},
		{Name: "phone", Label: "Phone", Kind: KindText},
		{Name: "email", Label: "Email", Kind: KindEmail},
		{Name: "carId", Label: "Vehicle", Kind: KindReference, Lookup: carLookup},
		{Name: "hireDate", Label: "Hire date", Kind: KindDateTime},
	},
	Columns: []string{"firstName", "lastName", "licenseNumber", "phone"},
}

// FuelEntry は給油記録フォーム。合計金額は単価×給油量で再計算する。
var FuelEntry = &Schema{
	Slug:     "fuel",
	Title:    "Fuel entries",
	Resource: fuelResource,
	Fields: []Field{
		{Name: "carId", Label: "Vehicle", Kind: KindReference, Required: true, Lookup: carLookup},
		{Name: "date", Label: "Date", Kind: KindDateTime, Required: true},
		{Name: "fuelType", Label: "Fuel type", Kind: KindEnum, Options: fuelTypes},
		{Name: "volume", Label: "Volume (l)", Kind: KindDecimal, Required: true, Min: bound(0), ExclusiveMin: true},
		{Name: "pricePerLiter", Label: "Price per liter", Kind: KindDecimal, Required: true, Min: bound(0)},
		{Name: "totalCost", Label: "Total cost", Kind: KindDecimal, Computed: true},
		{Name: "mileage", Label: "Mileage", Kind: KindDecimal, Min: bound(0)},
		{Name: "station", Label: "Station", Kind: KindText},
	},
	Products: []Product{{Target: "totalCost", Left: "pricePerLiter", Right: "volume"}},
	Columns:  []string{"date", "carId", "volume", "totalCost", "station"},
}

// ServiceRecord は整備記録フォーム。
var ServiceRecord = &Schema{
	Slug:     "service-records",
	Title:    "Service records",
	Resource: serviceRecordsResource,
	Fields: []Field{
		{Name: "carId", Label: "Vehicle", Kind: KindReference, Required: true, Lookup: carLookup},
		{Name: "serviceDate", Label: "Service date", Kind: KindDateTime, Required: true},
		{Name: "description", Label: "Description", Kind: KindText, Required: true},
		{Name: "mileage", Label: "Mileage", Kind: KindDecimal, Min: bound(0)},
		{Name: "cost", Label: "Cost", Kind: KindDecimal, Min: bound(0)},
		{Name: "status", Label: "Status", Kind: KindEnum, Options: serviceStatuses},
	},
	Columns: []string{"serviceDate", "carId", "description", "status"},
}

// ServiceTask は整備作業フォーム。合計金額は時間単価×作業時間で再計算する。
var ServiceTask = &Schema{
	Slug:     "service-tasks",
	Title:    "Service tasks",
	Resource: serviceTasksResource,
	Fields: []Field{
		{Name: "serviceRecordId", Label: "Service record", Kind: KindReference, Required: true, Lookup: serviceRecordLookup},
		{Name: "name", Label: "Name", Kind: KindText, Required: true},
		{Name: "description", Label: "Description", Kind: KindText},
		{Name: "laborHours", Label: "Labor hours", Kind: KindDecimal, Min: bound(0)},
		{Name: "laborRate", Label: "Labor rate", Kind: KindDecimal, Min: bound(0)},
		{Name: "totalCost", Label: "Total cost", Kind: KindDecimal, Computed: true},
		{Name: "status", Label: "Status", Kind: KindEnum, Options: taskStatuses},
	},
	Products: []Product{{Target: "totalCost", Left: "laborRate", Right: "laborHours"}},
	Columns:  []string{"name", "serviceRecordId", "laborHours", "totalCost", "status"},
}

// SparePart は交換部品フォーム。合計金額は単価×数量で再計算する。
var SparePart = &Schema{
	Slug:     "spare-parts",
	Title:    "Spare parts",
	Resource: sparePartsResource,
	Fields: []Field{
		{Name: "name", Label: "Name", Kind: KindText, Required: true},
		{Name: "partNumber", Label: "Part number", Kind: KindText},
		{Name: "carId", Label: "Vehicle", Kind: KindReference, Lookup: carLookup},
		{Name: "pricePerUnit", Label: "Price per unit", Kind: KindDecimal, Required: true, Min: bound(0)},
		{Name: "quantity", Label: "Quantity", Kind: KindInteger, Required: true, Min: bound(1)},
		{Name: "totalCost", Label: "Total cost", Kind: KindDecimal, Computed: true},
		{Name: "purchaseDate", Label: "Purchase date", Kind: KindDateTime},
		{Name: "supplier", Label: "Supplier", Kind: KindText},
	},
	Products: []Product{{Target: "totalCost", Left: "pricePerUnit", Right: "quantity"}},
	Columns:  []string{"name", "partNumber", "quantity", "totalCost", "supplier"},
}

// AdditionalExpense は追加経費フォーム。
var AdditionalExpense = &Schema{
	Slug:     "additional-expenses",
	Title:    "Additional expenses",
	Resource: expensesResource,
	Fields: []Field{
		{Name: "carId", Label: "Vehicle", Kind: KindReference, Required: true, Lookup: carLookup},
		{Name: "date", Label: "Date", Kind: KindDateTime, Required: true},
		{Name: "category", Label: "Category", Kind: KindEnum, Options: expenseCategories},
		{Name: "amount", Label: "Amount", Kind: KindDecimal, Required: true, Min: bound(0), ExclusiveMin: true},
		{Name: "description", Label: "Description", Kind: KindText},
	},
	Columns: []string{"date", "carId", "category", "amount"},
}

// All はナビゲーションの表示順に並べた全スキーマ。
var All = []*Schema{Vehicle, Driver, FuelEntry, AdditionalExpense, ServiceRecord, ServiceTask, SparePart}

// BySlug はURLパスの識別子からスキーマを返す。
func BySlug(slug string) (*Schema, bool) {
	for _, s := range All {
		if s.Slug == slug {
			return s, true
		}
	}
	return nil, false
}

func joinNonEmpty(sep string, parts ...string) string {
	out := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, sep)
}
