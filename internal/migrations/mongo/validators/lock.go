package validators

import "go.mongodb.org/mongo-driver/bson"

var LockValidator = bson.M{
	"$jsonSchema": bson.M{
		"bsonType": "object",
		"required": []string{
			"_id",
			"resource_id",
			"holder_id",
			"window",
			"status",
			"created_at",
			"expires_at",
			"updated_at",
		},
		"additionalProperties": false,

		"properties": bson.M{
			"_id": bson.M{
				"bsonType":  "string",
				"minLength": 36,
				"maxLength": 36,
			},

			"resource_id": bson.M{
				"bsonType":  "string",
				"minLength": 1,
				"maxLength": 128,
			},

			"holder_id": bson.M{
				"bsonType":  "string",
				"minLength": 1,
				"maxLength": 128,
			},

			"window": bson.M{
				"bsonType": "object",
				"required": []string{"check_in", "check_out"},
				"properties": bson.M{
					"check_in":  bson.M{"bsonType": "date"},
					"check_out": bson.M{"bsonType": "date"},
				},
			},

			"status": bson.M{
				"enum": []string{"ACTIVE", "CONVERTED", "RELEASED", "EXPIRED"},
			},

			"created_at": bson.M{
				"bsonType": "date",
			},

			"expires_at": bson.M{
				"bsonType": "date",
			},

			"updated_at": bson.M{
				"bsonType": "date",
			},

			"closed_at": bson.M{
				"bsonType": "date",
			},
		},
	},
}
