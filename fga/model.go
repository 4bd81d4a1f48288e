package fga

import "log"

// authorizationModel is the model written during bootstrap. Org-level
// relations mirror the role-template flags one to one; can_manage_* relations
// are computed from admin/master rather than assigned directly. Resource types
// carry a structural parent relation plus a direct access relation that
// accepts users and team-member usersets.
const authorizationModel = `{
  "schema_version": "1.1",
  "type_definitions": [
    {"type": "user"},
    {
      "type": "team",
      "relations": {
        "org": {"this": {}},
        "member": {"this": {}}
      },
      "metadata": {
        "relations": {
          "org": {"directly_related_user_types": [{"type": "org"}]},
          "member": {"directly_related_user_types": [{"type": "user"}]}
        }
      }
    },
    {
      "type": "org",
      "relations": {
        "member": {"this": {}},
        "admin": {"this": {}},
        "master": {"this": {}},
        "can_view": {"this": {}},
        "can_edit": {"this": {}},
        "have_api_access": {"this": {}},
        "have_billing_options": {"this": {}},
        "have_webhook_access": {"this": {}},
        "have_gpg_access": {"this": {}},
        "have_cert_access": {"this": {}},
        "have_audit_access": {"this": {}},
        "can_manage_roles": {
          "union": {"child": [
            {"computedUserset": {"relation": "admin"}},
            {"computedUserset": {"relation": "master"}}
          ]}
        },
        "can_manage_users": {
          "union": {"child": [
            {"computedUserset": {"relation": "admin"}},
            {"computedUserset": {"relation": "master"}}
          ]}
        },
        "can_manage_apps": {
          "union": {"child": [
            {"computedUserset": {"relation": "admin"}},
            {"computedUserset": {"relation": "master"}}
          ]}
        },
        "can_manage_billing": {
          "union": {"child": [
            {"computedUserset": {"relation": "have_billing_options"}},
            {"computedUserset": {"relation": "master"}}
          ]}
        }
      },
      "metadata": {
        "relations": {
          "member": {"directly_related_user_types": [{"type": "user"}]},
          "admin": {"directly_related_user_types": [{"type": "user"}]},
          "master": {"directly_related_user_types": [{"type": "user"}]},
          "can_view": {"directly_related_user_types": [{"type": "user"}]},
          "can_edit": {"directly_related_user_types": [{"type": "user"}]},
          "have_api_access": {"directly_related_user_types": [{"type": "user"}]},
          "have_billing_options": {"directly_related_user_types": [{"type": "user"}]},
          "have_webhook_access": {"directly_related_user_types": [{"type": "user"}]},
          "have_gpg_access": {"directly_related_user_types": [{"type": "user"}]},
          "have_cert_access": {"directly_related_user_types": [{"type": "user"}]},
          "have_audit_access": {"directly_related_user_types": [{"type": "user"}]}
        }
      }
    },
    {
      "type": "app",
      "relations": {
        "org": {"this": {}},
        "can_access": {"this": {}}
      },
      "metadata": {
        "relations": {
          "org": {"directly_related_user_types": [{"type": "org"}]},
          "can_access": {"directly_related_user_types": [{"type": "user"}, {"type": "team", "relation": "member"}]}
        }
      }
    },
    {
      "type": "env_type",
      "relations": {
        "app": {"this": {}},
        "org": {"this": {}},
        "can_access": {"this": {}}
      },
      "metadata": {
        "relations": {
          "app": {"directly_related_user_types": [{"type": "app"}]},
          "org": {"directly_related_user_types": [{"type": "org"}]},
          "can_access": {"directly_related_user_types": [{"type": "user"}, {"type": "team", "relation": "member"}]}
        }
      }
    },
    {
      "type": "gpg_key",
      "relations": {
        "org": {"this": {}},
        "owner": {"this": {}},
        "can_read": {"this": {}}
      },
      "metadata": {
        "relations": {
          "org": {"directly_related_user_types": [{"type": "org"}]},
          "owner": {"directly_related_user_types": [{"type": "user"}]},
          "can_read": {"directly_related_user_types": [{"type": "user"}, {"type": "team", "relation": "member"}]}
        }
      }
    },
    {
      "type": "certificate",
      "relations": {
        "org": {"this": {}},
        "owner": {"this": {}},
        "can_read": {"this": {}}
      },
      "metadata": {
        "relations": {
          "org": {"directly_related_user_types": [{"type": "org"}]},
          "owner": {"directly_related_user_types": [{"type": "user"}]},
          "can_read": {"directly_related_user_types": [{"type": "user"}, {"type": "team", "relation": "member"}]}
        }
      }
    }
  ]
}`

func logBootstrap(storeID, modelID string) {
	log.Printf("fga: bootstrapped tuple store; pin FGA_STORE_ID=%s FGA_MODEL_ID=%s in configuration to skip bootstrap on future runs", storeID, modelID)
}
