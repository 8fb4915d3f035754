package record

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hitoshi/fleetadmin/internal/backend"
)

func TestNewDraft_Defaults(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	d := NewDraft(FuelEntry, now)

	if got := d.Get("date"); got != "2024-03-01T09:30" {
		t.Errorf("date = %q, want 2024-03-01T09:30", got)
	}
	if got := d.Get("fuelType"); got != "PETROL" {
		t.Errorf("fuelType = %q, want first option PETROL", got)
	}
	if got := d.Get("carId"); got != "" {
		t.Errorf("carId = %q, 識別用フィールドは空であるべき", got)
	}
	if d.ID != "" {
		t.Errorf("ID = %q, want empty", d.ID)
	}
}

func TestFromRecord_NullBecomesEmpty(t *testing.T) {
	rec := backend.Record{
		"id":           float64(12),
		"brand":        "Volvo",
		"model":        "FH16",
		"year":         float64(2019),
		"licensePlate": "AB-123-CD",
		"vin":          nil,
		"mileage":      120000.5,
		"status":       "ACTIVE",
	}
	d := FromRecord(Vehicle, rec)

	if d.ID != "12" {
		t.Errorf("ID = %q, want 12", d.ID)
	}
	want := map[string]string{
		"brand":        "Volvo",
		"model":        "FH16",
		"year":         "2019",
		"licensePlate": "AB-123-CD",
		"vin":          "",
		"mileage":      "120000.5",
		"fuelType":     "",
		"status":       "ACTIVE",
	}
	if diff := cmp.Diff(want, d.Values()); diff != "" {
		t.Errorf("Values mismatch (-want +got):\n%s", diff)
	}
}

func TestDraft_Set_SparePartTotal(t *testing.T) {
	d := NewDraft(SparePart, time.Now())
	d.Set("pricePerUnit", "10")
	d.Set("quantity", "5")

	if got := d.Get("totalCost"); got != "50.00" {
		t.Errorf("totalCost = %q, want 50.00", got)
	}
}

func TestDraft_Set_RecomputesEagerly(t *testing.T) {
	tests := []struct {
		name   string
		schema *Schema
		inputs [][2]string
		want   string
	}{
		{"給油", FuelEntry, [][2]string{{"volume", "40.5"}, {"pricePerLiter", "1.799"}}, "72.86"},
		{"整備作業", ServiceTask, [][2]string{{"laborHours", "2.5"}, {"laborRate", "80"}}, "200.00"},
		{"小数の丸め誤差なし", SparePart, [][2]string{{"pricePerUnit", "0.1"}, {"quantity", "3"}}, "0.30"},
		{"片方が空", SparePart, [][2]string{{"pricePerUnit", "10"}}, ""},
		{"数値でない", SparePart, [][2]string{{"pricePerUnit", "ten"}, {"quantity", "5"}}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDraft(tt.schema, time.Now())
			for _, in := range tt.inputs {
				d.Set(in[0], in[1])
			}
			if got := d.Get("totalCost"); got != tt.want {
				t.Errorf("totalCost = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDraft_Recompute_Idempotent(t *testing.T) {
	d := NewDraft(FuelEntry, time.Now())
	d.Set("volume", "33.3")
	d.Set("pricePerLiter", "1.5")
	first := d.Values()

	d.Recompute()
	d.Recompute()

	if diff := cmp.Diff(first, d.Values()); diff != "" {
		t.Errorf("再計算で値が変化した (-first +after):\n%s", diff)
	}
}

func TestDraft_Set_IgnoresComputedAndUnknown(t *testing.T) {
	d := NewDraft(SparePart, time.Now())
	d.Set("pricePerUnit", "2")
	d.Set("quantity", "3")

	if d.Set("totalCost", "999") {
		t.Error("計算フィールドへの設定はfalseを返すべき")
	}
	if d.Set("unknown", "x") {
		t.Error("スキーマに無いフィールドへの設定はfalseを返すべき")
	}
	if got := d.Get("totalCost"); got != "6.00" {
		t.Errorf("totalCost = %q, want 6.00", got)
	}
}

func TestDraft_Payload_Coercion(t *testing.T) {
	d := NewDraft(SparePart, time.Now())
	d.Set("name", "Brake pad")
	d.Set("carId", "3")
	d.Set("pricePerUnit", "10")
	d.Set("quantity", "5")
	d.Set("purchaseDate", "2024-05-02T08:15")
	d.Set("supplier", "")

	payload, err := d.Payload()
	if err != nil {
		t.Fatalf("Payload がエラーを返した: %v", err)
	}

	want := map[string]any{
		"name":         "Brake pad",
		"partNumber":   nil,
		"carId":        int64(3),
		"pricePerUnit": float64(10),
		"quantity":     int64(5),
		"totalCost":    float64(50),
		"purchaseDate": "2024-05-02T08:15:00",
		"supplier":     nil,
	}
	if diff := cmp.Diff(want, payload); diff != "" {
		t.Errorf("Payload mismatch (-want +got):\n%s", diff)
	}
}

func TestDraft_RoundTrip(t *testing.T) {
	tests := []struct {
		schema *Schema
		json   string
	}{
		{Vehicle, `{"id":1,"brand":"Volvo","model":"FH16","year":2019,"licensePlate":"AB-123-CD","vin":null,"mileage":120000.5,"fuelType":"DIESEL","status":"ACTIVE"}`},
		{Driver, `{"id":2,"firstName":"Ada","lastName":"Lovelace","licenseNumber":"L-1","phone":null,"email":"ada@example.com","carId":1,"hireDate":"2020-01-15T00:00:00"}`},
		{FuelEntry, `{"id":3,"carId":1,"date":"2024-03-01T10:00:00","fuelType":"DIESEL","volume":40.5,"pricePerLiter":1.8,"totalCost":72.9,"mileage":null,"station":"Shell"}`},
		{ServiceRecord, `{"id":4,"carId":1,"serviceDate":"2024-02-10T09:00:00","description":"Oil change","mileage":119000,"cost":250,"status":"COMPLETED"}`},
		{ServiceTask, `{"id":5,"serviceRecordId":4,"name":"Replace filter","description":null,"laborHours":1.5,"laborRate":80,"totalCost":120,"status":"DONE"}`},
		{SparePart, `{"id":6,"name":"Brake pad","partNumber":"BP-9","carId":null,"pricePerUnit":10,"quantity":5,"totalCost":50,"purchaseDate":null,"supplier":"ACME"}`},
		{AdditionalExpense, `{"id":7,"carId":1,"date":"2024-04-01T12:00:00","category":"TOLL","amount":12.5,"description":"A1 motorway"}`},
	}

	for _, tt := range tests {
		t.Run(tt.schema.Slug, func(t *testing.T) {
			var rec backend.Record
			if err := json.Unmarshal([]byte(tt.json), &rec); err != nil {
				t.Fatalf("fixture: %v", err)
			}

			d := FromRecord(tt.schema, rec)
			payload, err := d.Payload()
			if err != nil {
				t.Fatalf("Payload がエラーを返した: %v", err)
			}

			delete(rec, IDField)
			if diff := cmp.Diff(normalizeJSON(t, rec), normalizeJSON(t, payload)); diff != "" {
				t.Errorf("round trip mismatch (-fetched +submitted):\n%s", diff)
			}
		})
	}
}

func TestDraft_RoundTrip_DateTimePrecision(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"秒まで", "2024-03-01T10:00:00"},
		{"マイクロ秒", "2024-03-01T10:00:00.123456"},
		{"UTC", "2024-03-01T10:00:00Z"},
		{"オフセット付き", "2024-03-01T10:00:00+02:00"},
		{"オフセットと小数部", "2024-03-01T10:00:00.5-05:00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := backend.Record{"id": float64(3), "carId": float64(1), "date": tt.value, "fuelType": "DIESEL", "volume": 40.5, "pricePerLiter": 1.8}
			d := FromRecord(FuelEntry, rec)

			if err := d.Validate(); err != nil {
				t.Fatalf("Validate がエラーを返した: %v", err)
			}
			payload, err := d.Payload()
			if err != nil {
				t.Fatalf("Payload がエラーを返した: %v", err)
			}
			if payload["date"] != tt.value {
				t.Errorf("date = %v, want %q", payload["date"], tt.value)
			}
		})
	}
}

func TestFitsDateTimeInput(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"", true},
		{"2024-03-01T10:00", true},
		{"2024-03-01T10:00:00", true},
		{"2024-03-01T10:00:00.123", true},
		{"2024-03-01T10:00:00.123456", false},
		{"2024-03-01T10:00:00Z", false},
		{"2024-03-01T10:00:00+02:00", false},
		{"yesterday", false},
	}
	for _, tt := range tests {
		if got := FitsDateTimeInput(tt.value); got != tt.want {
			t.Errorf("FitsDateTimeInput(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

// normalizeJSON は値をJSONとして往復させ、数値型の違いを吸収する。
func normalizeJSON(t *testing.T, v any) map[string]any {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return out
}
